package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"rentsign/agreement"
	"rentsign/booking"
	"rentsign/document"
	"rentsign/signature"
	"rentsign/test/actors"
	"rentsign/test/chaos"
	"rentsign/test/infra"
	"rentsign/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent signer pairs per booking")
	flBookings    = flag.Int("bookings", 4, "number of bookings signed concurrently")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestSigningConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	bookings := booking.NewService(booking.NewRepository(pool))
	svc := agreement.NewService(pool, agreement.NewRepository(), bookings, document.NewPDFGenerator(), agreement.DefaultPolicy)

	tenantSig := mustArtifact(t, 1)
	landlordSig := mustArtifact(t, 2)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for b := 0; b < *flBookings; b++ {
		seeded := mustSeed(t, ctx, pool)

		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error {
				return actors.Signer(ctx2, svc, seeded.bookingID, agreement.RoleTenant, seeded.tenantID, tenantSig, stop)
			})
			g.Go(func() error {
				return actors.Signer(ctx2, svc, seeded.bookingID, agreement.RoleLandlord, seeded.landlordID, landlordSig, stop)
			})
		}
		g.Go(func() error { return actors.StatusPoller(ctx2, svc, seeded.bookingID, stop) })
		g.Go(func() error { return actors.DocumentFetcher(ctx2, svc, seeded.bookingID, stop) })
	}

	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustArtifact renders a valid PNG signature so the document generator can
// embed it.
func mustArtifact(t *testing.T, variant int) []byte {
	t.Helper()
	strokes := []signature.Stroke{
		{{X: 20, Y: 40}, {X: 80, Y: float64(40 + 10*variant)}, {X: 160, Y: 30}},
	}
	data, err := signature.Capture(strokes)
	if err != nil {
		t.Fatalf("render signature artifact: %v", err)
	}
	return data
}

type seedIDs struct {
	tenantID   string
	landlordID string
	propertyID string
	bookingID  string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs
	nonce := rand.Int63()

	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1,$2) RETURNING id`,
		fmt.Sprintf("tenant%d@example.com", nonce), "Stress Tenant").Scan(&s.tenantID); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1,$2) RETURNING id`,
		fmt.Sprintf("landlord%d@example.com", nonce), "Stress Landlord").Scan(&s.landlordID); err != nil {
		t.Fatalf("seed landlord: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO properties (owner_id, title, address, city, country) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		s.landlordID, fmt.Sprintf("Stress Flat %d", nonce), "2 Load Ln", "Ipoh", "Malaysia").Scan(&s.propertyID); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO bookings (property_id, tenant_id, landlord_id, start_date, end_date, rent_amount, currency_code)
		VALUES ($1,$2,$3,'2026-01-01','2026-12-31',1200,'MYR') RETURNING id`,
		s.propertyID, s.tenantID, s.landlordID).Scan(&s.bookingID); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"agreements", `SELECT id, booking_id, status, tenant_artifact_id, landlord_artifact_id, document_id FROM agreements ORDER BY updated_at DESC LIMIT 50`},
		{"timeline_events", `SELECT id, agreement_id, type, created_at FROM timeline_events ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"documents", `SELECT id, agreement_id, file_name, created_at FROM documents ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
