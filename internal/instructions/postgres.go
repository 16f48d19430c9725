package instructions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore archives instruction sets and element selections in
// PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruction_sets (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			instructions TEXT NOT NULL,
			steps JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instruction_sets_session_created ON instruction_sets (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS selected_elements (
			set_id TEXT NOT NULL REFERENCES instruction_sets(id),
			step_number INT NOT NULL,
			step_text TEXT NOT NULL,
			element JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (set_id, step_number)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSet(ctx context.Context, set InstructionSet) (string, error) {
	if set.ID == "" {
		set.ID = uuid.NewString()
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO instruction_sets (id, session_id, prompt, instructions, steps, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		set.ID,
		set.SessionID,
		set.Prompt,
		set.Instructions,
		set.Steps,
		set.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("save instruction set: %w", err)
	}
	return set.ID, nil
}

func (s *PostgresStore) RecentSets(ctx context.Context, sessionID string, limit int) ([]InstructionSet, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, session_id, prompt, instructions, steps, created_at
		 FROM instruction_sets WHERE ($1 = '' OR session_id = $1)
		 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query instruction sets: %w", err)
	}
	defer rows.Close()

	items := make([]InstructionSet, 0, limit)
	for rows.Next() {
		var set InstructionSet
		if err := rows.Scan(&set.ID, &set.SessionID, &set.Prompt, &set.Instructions, &set.Steps, &set.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan instruction set: %w", err)
		}
		items = append(items, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruction sets: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) SaveElement(ctx context.Context, rec ElementRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO selected_elements (set_id, step_number, step_text, element, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (set_id, step_number)
		 DO UPDATE SET step_text = EXCLUDED.step_text, element = EXCLUDED.element, created_at = EXCLUDED.created_at`,
		rec.SetID,
		rec.StepNumber,
		rec.StepText,
		rec.Element,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save selected element: %w", err)
	}
	return nil
}

func (s *PostgresStore) ElementsForSet(ctx context.Context, setID string) ([]ElementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT set_id, step_number, step_text, element, created_at
		 FROM selected_elements WHERE set_id = $1 ORDER BY step_number`,
		setID,
	)
	if err != nil {
		return nil, fmt.Errorf("query selected elements: %w", err)
	}
	defer rows.Close()

	var items []ElementRecord
	for rows.Next() {
		var rec ElementRecord
		if err := rows.Scan(&rec.SetID, &rec.StepNumber, &rec.StepText, &rec.Element, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan selected element: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selected elements: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
