// Package actors holds the concurrent workloads the stress test throws at a
// live database: competing signers, status pollers, document fetchers, and an
// outbox drainer. Actors drive the real service API, not raw SQL, so locking
// and CAS behavior is exercised the way production traffic would.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rentsign/agreement"
)

// Signer repeatedly submits one party's signature for the booking. Wrong-turn
// and conflict rejections are the expected outcome for most attempts; anything
// else fails the run.
func Signer(ctx context.Context, svc *agreement.Service, bookingID string, role agreement.Role, actorID string, artifact []byte, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := svc.Sign(ctx, agreement.SignParams{
			BookingID: bookingID,
			Role:      role,
			ActorID:   actorID,
			Signature: artifact,
		})
		switch {
		case err == nil:
		case errors.Is(err, agreement.ErrWrongTurn):
		case errors.Is(err, agreement.ErrConflict):
		case errors.Is(err, agreement.ErrStorageUnavailable):
			// chaos actor may have killed our backend; retry
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("signer %s: %w", role, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// StatusPoller reads the view in a tight loop and checks it never reports an
// impossible combination.
func StatusPoller(ctx context.Context, svc *agreement.Service, bookingID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		view, err := svc.Status(ctx, bookingID)
		switch {
		case err == nil:
			if view.Status == agreement.StatusCompleted && (!view.TenantSigned || !view.LandlordSigned) {
				return fmt.Errorf("poller: completed view missing a signature: %+v", view)
			}
			if view.Document != nil && view.Status != agreement.StatusCompleted {
				return fmt.Errorf("poller: document on non-completed view: %+v", view)
			}
		case errors.Is(err, agreement.ErrStorageUnavailable):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("poller: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// DocumentFetcher hammers Document; before completion it must get
// ErrDocumentNotReady, after completion every call must return the same ref.
func DocumentFetcher(ctx context.Context, svc *agreement.Service, bookingID string, stop <-chan struct{}) error {
	var seen string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		ref, err := svc.Document(ctx, bookingID)
		switch {
		case err == nil:
			if seen == "" {
				seen = ref.ID
			} else if ref.ID != seen {
				return fmt.Errorf("fetcher: document ref changed from %s to %s", seen, ref.ID)
			}
		case errors.Is(err, agreement.ErrDocumentNotReady):
		case errors.Is(err, agreement.ErrDocumentGenerationFailed):
		case errors.Is(err, agreement.ErrStorageUnavailable):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("fetcher: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox rows with SKIP LOCKED the way the relay
// does, marking them sent without an actual broker.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='sent', sent_at=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
