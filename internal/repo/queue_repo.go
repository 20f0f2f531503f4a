package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/model"
)

// QueueRepo is a table-backed work queue for the background indexer.
// Dequeued rows stay in the table but become invisible for a visibility
// window; a worker that crashes mid-processing simply lets the message
// reappear. Rows exceeding the dequeue budget move to the poison table.
type QueueRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db, now: time.Now}
}

// QueueItem is one dequeued message plus its queue bookkeeping.
type QueueItem struct {
	ID           int64
	Msg          model.IndexQueueMessage
	DequeueCount int
}

func (r *QueueRepo) Enqueue(ctx context.Context, msg model.IndexQueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	const query = `INSERT INTO index_queue (payload, visible_at, ctime) VALUES ($1, $2, $2)`
	_, err = r.db.ExecContext(ctx, query, payload, r.now().Unix())
	return err
}

// Dequeue claims up to batch visible messages. Claimed messages become
// invisible for visibilitySeconds; messages past maxDequeue attempts are
// moved to the poison table instead of being returned.
func (r *QueueRepo) Dequeue(ctx context.Context, batch, visibilitySeconds, maxDequeue int) ([]QueueItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := r.now().Unix()
	const selectQuery = `
		SELECT id, payload, dequeue_count
		FROM index_queue
		WHERE visible_at <= $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, now, batch)
	if err != nil {
		return nil, err
	}
	type rawItem struct {
		id      int64
		payload []byte
		count   int
	}
	var raw []rawItem
	for rows.Next() {
		var item rawItem
		if err := rows.Scan(&item.id, &item.payload, &item.count); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var items []QueueItem
	for _, item := range raw {
		count := item.count + 1
		if count > maxDequeue {
			if err := r.poison(ctx, tx, item.id, item.payload, item.count, "dequeue budget exhausted"); err != nil {
				return nil, err
			}
			logutil.GetLogger(ctx).Warn("message moved to poison queue", zap.Int64("id", item.id), zap.Int("dequeue_count", item.count))
			continue
		}
		const claim = `UPDATE index_queue SET dequeue_count = $1, visible_at = $2 WHERE id = $3`
		if _, err := tx.ExecContext(ctx, claim, count, now+int64(visibilitySeconds), item.id); err != nil {
			return nil, err
		}
		var msg model.IndexQueueMessage
		if err := json.Unmarshal(item.payload, &msg); err != nil {
			if err := r.poison(ctx, tx, item.id, item.payload, count, "unreadable payload"); err != nil {
				return nil, err
			}
			continue
		}
		msg.DequeueCount = count
		items = append(items, QueueItem{ID: item.id, Msg: msg, DequeueCount: count})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// Complete removes a successfully processed message.
func (r *QueueRepo) Complete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM index_queue WHERE id = $1`, id)
	return err
}

// Discard removes a message that must never be retried.
func (r *QueueRepo) Discard(ctx context.Context, id int64) error {
	return r.Complete(ctx, id)
}

func (r *QueueRepo) poison(ctx context.Context, tx *sql.Tx, id int64, payload []byte, count int, reason string) error {
	const move = `
		INSERT INTO index_queue_poison (payload, dequeue_count, reason, ctime)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, move, payload, count, reason, r.now().Unix()); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM index_queue WHERE id = $1`, id)
	return err
}

// Stats returns a point-in-time snapshot of queue depth.
func (r *QueueRepo) Stats(ctx context.Context) (*model.QueueStats, error) {
	now := r.now().Unix()
	stats := &model.QueueStats{}
	const query = `
		SELECT
			COUNT(1) FILTER (WHERE visible_at <= $1),
			COUNT(1) FILTER (WHERE visible_at > $1)
		FROM index_queue
	`
	if err := r.db.QueryRowContext(ctx, query, now).Scan(&stats.Pending, &stats.InFlight); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM index_queue_poison`).Scan(&stats.Poisoned); err != nil {
		return nil, err
	}
	return stats, nil
}
