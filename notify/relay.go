package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	pollInterval = time.Second
	batchSize    = 50
	maxBackoff   = 30 * time.Second
)

// Relay drains pending outbox rows and publishes them to RabbitMQ, declaring
// one durable queue per topic. It reconnects with exponential backoff and
// leaves unpublished rows pending, so delivery is at-least-once.
type Relay struct {
	pool   *pgxpool.Pool
	url    string
	logger *slog.Logger
}

func NewRelay(pool *pgxpool.Pool, url string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{pool: pool, url: url, logger: logger.With("component", "outbox-relay")}
}

// Run blocks until the context is cancelled, publishing pending outbox rows
// as they appear.
func (r *Relay) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			r.logger.Warn("dial broker failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := r.publishLoop(ctx, conn); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("publish loop ended", "error", err)
			continue
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("notify: open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	declared := make(map[string]bool)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := r.drainBatch(ctx, ch, declared); err != nil {
			return err
		}
	}
}

// drainBatch publishes up to batchSize pending rows inside one transaction.
// SKIP LOCKED lets multiple relay instances share the queue without blocking
// each other.
func (r *Relay) drainBatch(ctx context.Context, ch *amqp.Channel, declared map[string]bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`, batchSize)
	if err != nil {
		return fmt.Errorf("notify: fetch pending: %w", err)
	}

	type message struct {
		id      string
		topic   string
		payload []byte
	}
	var batch []message
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.id, &m.topic, &m.payload); err != nil {
			rows.Close()
			return fmt.Errorf("notify: scan outbox row: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("notify: iterate outbox rows: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	for _, m := range batch {
		if !declared[m.topic] {
			if _, err := ch.QueueDeclare(m.topic, true, false, false, false, nil); err != nil {
				return fmt.Errorf("notify: declare queue %s: %w", m.topic, err)
			}
			declared[m.topic] = true
		}

		err := ch.PublishWithContext(ctx, "", m.topic, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Body:         m.payload,
		})
		if err != nil {
			return fmt.Errorf("notify: publish %s: %w", m.topic, err)
		}

		if _, err := tx.Exec(ctx, `
UPDATE outbox
SET status = 'sent',
    attempts = attempts + 1,
    sent_at = get_tx_timestamp()
WHERE id = $1
`, m.id); err != nil {
			return fmt.Errorf("notify: mark sent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notify: commit batch: %w", err)
	}
	r.logger.Info("published outbox batch", "count", len(batch))
	return nil
}
