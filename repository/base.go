package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/types"
)

type Filters map[string]any

// Base carries the generic queries shared by every table. Filter keys are
// checked against the declared columns before they reach SQL.
type Base[T any] struct {
	db      *database.Manager
	table   string
	key     string
	columns []string
}

func NewBase[T any](db *database.Manager, table, key string, columns ...string) *Base[T] {
	return &Base[T]{
		db:      db,
		table:   table,
		key:     key,
		columns: columns,
	}
}

func (b *Base[T]) Get(ctx context.Context, id string) (*T, error) {
	return b.FilterOne(ctx, Filters{b.key: id})
}

func (b *Base[T]) List(ctx context.Context, offset, limit int) ([]T, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ? OFFSET ?", b.table, b.key))

	var out []T
	if err := b.db.DB().SelectContext(ctx, &out, query, limit, offset); err != nil {
		return nil, b.failed("list", err)
	}

	return out, nil
}

func (b *Base[T]) FilterBy(ctx context.Context, filters Filters) ([]T, error) {
	where, args, err := b.where(filters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s", b.table, where, b.key))

	var out []T
	if err := b.db.DB().SelectContext(ctx, &out, query, args...); err != nil {
		return nil, b.failed("filter", err)
	}

	return out, nil
}

// FilterOne returns ErrRecordNotFound when nothing matches.
func (b *Base[T]) FilterOne(ctx context.Context, filters Filters) (*T, error) {
	where, args, err := b.where(filters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("SELECT * FROM %s%s LIMIT 1", b.table, where))

	var out T
	if err := b.db.DB().GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.Errorf(types.ErrRecordNotFound, "%s", b.table)
		}
		return nil, b.failed("get", err)
	}

	return &out, nil
}

func (b *Base[T]) Exists(ctx context.Context, filters Filters) (bool, error) {
	count, err := b.Count(ctx, filters)
	return count > 0, err
}

func (b *Base[T]) Count(ctx context.Context, filters Filters) (int, error) {
	where, args, err := b.where(filters)
	if err != nil {
		return 0, err
	}

	ctx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", b.table, where))

	var count int
	if err := b.db.DB().GetContext(ctx, &count, query, args...); err != nil {
		return 0, b.failed("count", err)
	}

	return count, nil
}

// Update sets the given columns and returns the row as stored afterwards.
func (b *Base[T]) Update(ctx context.Context, id string, values Filters) (*T, error) {
	if len(values) == 0 {
		return b.Get(ctx, id)
	}

	keys, err := b.checkColumns(values)
	if err != nil {
		return nil, err
	}

	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		sets = append(sets, k+" = ?")
		args = append(args, values[k])
	}
	args = append(args, id)

	opCtx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", b.table, strings.Join(sets, ", "), b.key))

	res, err := b.db.DB().ExecContext(opCtx, query, args...)
	if err != nil {
		return nil, b.failed("update", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.Errorf(types.ErrRecordNotFound, "%s", b.table)
	}

	return b.Get(ctx, id)
}

func (b *Base[T]) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := b.db.WithTimeout(ctx)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", b.table, b.key))

	res, err := b.db.DB().ExecContext(ctx, query, id)
	if err != nil {
		return false, b.failed("delete", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, b.failed("delete", err)
	}

	return n > 0, nil
}

func (b *Base[T]) where(filters Filters) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	keys, err := b.checkColumns(filters)
	if err != nil {
		return "", nil, err
	}

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, k+" = ?")
		args = append(args, filters[k])
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (b *Base[T]) checkColumns(values Filters) ([]string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !slices.Contains(b.columns, k) {
			return nil, types.Errorf(types.ErrValidation, "unknown column %s.%s", b.table, k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *Base[T]) failed(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", types.ErrDependencyUnavailable, op, b.table, err)
}
