package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var errNotBound = errors.New("scheduler callback not bound")

// Postgres is the durable backend. Triggers are rows in the
// scheduled_activations table; any worker process polling the table may claim
// and fire them, so pending activations survive restarts and scale across
// workers.
type Postgres struct {
	pool  *pgxpool.Pool
	log   *zap.Logger
	poll  time.Duration
	batch int

	cb Callback
}

// NewPostgres creates a durable scheduler polling every poll interval.
func NewPostgres(pool *pgxpool.Pool, log *zap.Logger, poll time.Duration) *Postgres {
	if poll <= 0 {
		poll = time.Second
	}
	return &Postgres{
		pool:  pool,
		log:   log,
		poll:  poll,
		batch: 100,
	}
}

func (p *Postgres) Bind(cb Callback) {
	p.cb = cb
}

// Schedule persists the trigger; already-due rows are picked up by the next
// poll. Tasks never fire on the scheduling goroutine, which still holds the
// entity's key lock that the callback re-acquires.
func (p *Postgres) Schedule(ctx context.Context, task Task) error {
	if p.cb == nil {
		return errNotBound
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO scheduled_activations
			(task_name, entity_type, entity_id, history_id, run_at, status)
		VALUES ($1, $2, $3, $4, $5, 'PENDING')
		ON CONFLICT (task_name) DO NOTHING`,
		task.Name, task.EntityType, task.EntityID, task.HistoryID, task.RunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist scheduled activation: %w", err)
	}

	p.log.Info("activation scheduled",
		zap.String("task", task.Name),
		zap.Time("run_at", task.RunAt),
		zap.Int64("history_id", task.HistoryID))
	return nil
}

func (p *Postgres) Cancel(ctx context.Context, name string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE scheduled_activations
		SET status = 'CANCELLED'
		WHERE task_name = $1 AND status = 'PENDING'`,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled activation: %w", err)
	}
	return nil
}

// Run polls for due activations until the context is done. Safe to run in
// several processes at once; claiming uses SKIP LOCKED so each trigger fires
// exactly once.
func (p *Postgres) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.fireDue(ctx); err != nil {
				p.log.Error("failed to fire due activations", zap.Error(err))
			}
		}
	}
}

func (p *Postgres) fireDue(ctx context.Context) error {
	rows, err := p.pool.Query(ctx, `
		UPDATE scheduled_activations
		SET status = 'RUNNING', fired_at = now()
		WHERE task_name IN (
			SELECT task_name FROM scheduled_activations
			WHERE status = 'PENDING' AND run_at <= now()
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING task_name, entity_type, entity_id, history_id, run_at`,
		p.batch,
	)
	if err != nil {
		return fmt.Errorf("failed to claim due activations: %w", err)
	}

	var due []Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.Name, &task.EntityType, &task.EntityID, &task.HistoryID, &task.RunAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan due activation: %w", err)
		}
		due = append(due, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, task := range due {
		p.cb(ctx, task)
		if _, err := p.pool.Exec(ctx, `
			UPDATE scheduled_activations SET status = 'DONE' WHERE task_name = $1`,
			task.Name,
		); err != nil {
			p.log.Error("failed to mark activation done",
				zap.String("task", task.Name), zap.Error(err))
		}
	}
	return nil
}
