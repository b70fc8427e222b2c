// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type Options struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Logger       *slog.Logger
}

type Store struct {
	db     *sqlx.DB
	qb     sq.StatementBuilderType
	logger *slog.Logger
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("connected to postgres store")
	return s, nil
}

// New wraps an existing connection without migrating.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

func (s *Store) get(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := s.db.GetContext(ctx, dest, query, args...); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) selectRows(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := s.db.SelectContext(ctx, dest, query, args...); err != nil {
		return translate(err)
	}
	return nil
}

// insertReturningID runs an INSERT ... RETURNING id.
func (s *Store) insertReturningID(ctx context.Context, b sq.InsertBuilder) (int64, error) {
	query, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, translate(err)
	}
	return id, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, store.ErrConflict)
	}
	return err
}

var _ store.Store = (*Store)(nil)

type jobRow struct {
	model.Job
	ResultData []byte `db:"result_data"`
}

func (r jobRow) toModel() model.Job {
	j := r.Job
	if len(r.ResultData) > 0 {
		j.ResultData = append([]byte(nil), r.ResultData...)
	}
	return j
}

type subscriptionRow struct {
	model.Subscription
	ContentTypes pq.StringArray `db:"content_types"`
}

func (r subscriptionRow) toModel() model.Subscription {
	sub := r.Subscription
	sub.ContentTypes = []string(r.ContentTypes)
	return sub
}

type eventRow struct {
	model.SchedulerEvent
	ContentTypesProcessed pq.StringArray `db:"content_types_processed"`
}

func (r eventRow) toModel() model.SchedulerEvent {
	ev := r.SchedulerEvent
	ev.ContentTypesProcessed = []string(r.ContentTypesProcessed)
	return ev
}
