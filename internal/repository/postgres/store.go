// Package postgres implements repository.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	*querier
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{querier: &querier{db: pool}, pool: pool}
}

// InTx runs fn in a serializable transaction. Serialization failures and
// deadlocks surface as repository.ErrTxConflict.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &querier{db: tx}); err != nil {
		if isConflict(err) && !errors.Is(err, repository.ErrTxConflict) {
			return fmt.Errorf("%w: %v", repository.ErrTxConflict, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

type querier struct {
	db dbtx
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// mapError translates driver errors into repository sentinels, keeping the
// original as context.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", repository.ErrTxConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

// filter accumulates WHERE clauses with numbered placeholders.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(f.args))))
}

func (f *filter) addRaw(clause string) {
	f.clauses = append(f.clauses, clause)
}

// scope restricts column (or any of columns) to the principal's locations.
func (f *filter) scope(p domain.Principal, columns ...string) {
	locations, all := repository.ScopeLocations(p)
	if all {
		return
	}
	f.args = append(f.args, locations)
	placeholder := fmt.Sprintf("$%d", len(f.args))
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + " = ANY(" + placeholder + ")"
	}
	f.clauses = append(f.clauses, "("+strings.Join(parts, " OR ")+")")
}

// scopeArray restricts rows whose array column overlaps the principal's
// locations. Rows with an empty array stay visible.
func (f *filter) scopeArray(p domain.Principal, column string) {
	locations, all := repository.ScopeLocations(p)
	if all {
		return
	}
	f.args = append(f.args, locations)
	f.clauses = append(f.clauses, fmt.Sprintf("(cardinality(%s) = 0 OR %s && $%d::text[])", column, column, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the suffix.
func (f *filter) page(p repository.Page) string {
	p = p.Normalize()
	f.args = append(f.args, p.Limit, p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(f.args)-1, len(f.args))
}

func (q *querier) count(ctx context.Context, from string, f *filter) (int, error) {
	var total int
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+from+f.where(), f.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", from, err)
	}
	return total, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}
