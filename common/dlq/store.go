package dlq

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"digitaltwin/common/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const defaultListLimit = 100

type Store interface {
	Save(ctx context.Context, entry *models.DeadLetter) error
	List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, error)
	// Count with an empty kind counts every entry.
	Count(ctx context.Context, kind models.DeadLetterKind) (int, error)
	// Clear removes entries of kind, or all of them when kind is empty, and
	// returns how many were removed.
	Clear(ctx context.Context, kind models.DeadLetterKind) (int, error)
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

type ClickHouseStore struct {
	conn clickhouse.Conn
}

func NewClickHouseStore(conn clickhouse.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

func (s *ClickHouseStore) Save(ctx context.Context, e *models.DeadLetter) error {
	if err := s.conn.Exec(ctx, `
		INSERT INTO dead_letters (id, kind, job_id, job_name, original_job, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.JobID, e.JobName, string(e.OriginalJob), e.Error, e.FailedAt,
	); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		where = append(where, "failed_at >= ?")
		args = append(args, filter.Since)
	}

	query := "SELECT id, kind, job_id, job_name, original_job, error, failed_at FROM dead_letters"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY failed_at DESC LIMIT %d", listLimit(filter.Limit))

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []models.DeadLetter{}
	for rows.Next() {
		var e models.DeadLetter
		var kind, original string
		if err := rows.Scan(&e.ID, &kind, &e.JobID, &e.JobName, &original, &e.Error, &e.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		e.Kind = models.DeadLetterKind(kind)
		e.OriginalJob = []byte(original)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) Count(ctx context.Context, kind models.DeadLetterKind) (int, error) {
	var n uint64
	var err error
	if kind == "" {
		err = s.conn.QueryRow(ctx, "SELECT count() FROM dead_letters").Scan(&n)
	} else {
		err = s.conn.QueryRow(ctx, "SELECT count() FROM dead_letters WHERE kind = ?", string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return int(n), nil
}

func (s *ClickHouseStore) Clear(ctx context.Context, kind models.DeadLetterKind) (int, error) {
	n, err := s.Count(ctx, kind)
	if err != nil {
		return 0, err
	}
	if kind == "" {
		err = s.conn.Exec(ctx, "TRUNCATE TABLE dead_letters")
	} else {
		err = s.conn.Exec(ctx, "ALTER TABLE dead_letters DELETE WHERE kind = ?", string(kind))
	}
	if err != nil {
		return 0, fmt.Errorf("clear dead letters: %w", err)
	}
	return n, nil
}

type MemoryStore struct {
	mu      sync.Mutex
	entries []models.DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, e *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.DeadLetter{}
	for _, e := range s.entries {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && e.FailedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, kind models.DeadLetterKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if kind == "" || e.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Clear(_ context.Context, kind models.DeadLetterKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if kind == "" || e.Kind == kind {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}
