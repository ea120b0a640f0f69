package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tasksSchema = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id          TEXT PRIMARY KEY,
    context_id  TEXT NOT NULL,
    state       TEXT NOT NULL,
    task        JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_context_id ON a2a_tasks (context_id);`

// Store persists A2A tasks in Postgres so task history survives restarts.
type Store struct {
	pool *pgxpool.Pool
}

var _ a2asrv.TaskStore = (*Store)(nil)

// NewStore creates the task store and its table.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, tasksSchema); err != nil {
		return nil, fmt.Errorf("create a2a_tasks: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save upserts the whole task document.
func (s *Store) Save(ctx context.Context, task *sdk.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO a2a_tasks (id, context_id, state, task)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   context_id = EXCLUDED.context_id,
		   state = EXCLUDED.state,
		   task = EXCLUDED.task,
		   updated_at = NOW()`,
		string(task.ID), task.ContextID, string(task.Status.State), doc)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (s *Store) Get(ctx context.Context, id sdk.TaskID) (*sdk.Task, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT task FROM a2a_tasks WHERE id=$1`, string(id)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sdk.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var t sdk.Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
