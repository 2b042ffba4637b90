// Package pgstore is a PostgreSQL record store. Documents share one table
// keyed by (entity_type, name) with fields and children kept as JSONB.
package pgstore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const createTable = `
CREATE TABLE IF NOT EXISTS documents (
	entity_type  TEXT NOT NULL,
	name         TEXT NOT NULL,
	parent       TEXT NOT NULL DEFAULT '',
	parent_type  TEXT NOT NULL DEFAULT '',
	parent_field TEXT NOT NULL DEFAULT '',
	body         JSONB NOT NULL,
	modified     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_type, name)
)`

// body is the JSONB payload
type body struct {
	Fields   map[string]interface{}       `json:"fields"`
	Children map[string][]*store.Document `json:"children,omitempty"`
}

// Store implements store.Store on PostgreSQL
type Store struct {
	*store.Schema
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects, pings and creates the documents table if needed
func Open(ctx context.Context, dsn string, timeout time.Duration, schema *store.Schema, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid PostgreSQL DSN")
	}
	if timeout > 0 {
		cfg.ConnConfig.ConnectTimeout = timeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping PostgreSQL")
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create documents table")
	}

	logger.Info("connected to PostgreSQL", zap.String("database", cfg.ConnConfig.Database))
	return &Store{Schema: schema, pool: pool, logger: logger}, nil
}

// ListAll implements store.Store
func (s *Store) ListAll(ctx context.Context, entityType string) ([]*store.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_type, name, parent, parent_type, parent_field, body
		FROM documents WHERE entity_type = $1 ORDER BY name`, entityType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list documents").
			WithDetail("entity_type", entityType)
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list documents")
	}
	return docs, nil
}

// Get implements store.Store
func (s *Store) Get(ctx context.Context, entityType, name string) (*store.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_type, name, parent, parent_type, parent_field, body
		FROM documents WHERE entity_type = $1 AND name = $2`, entityType, name)
	d, err := scan(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound(entityType, name)
	}
	return d, err
}

// GetCached implements store.Store; wrap with store.NewCachedStore for caching
func (s *Store) GetCached(ctx context.Context, entityType, name string) (*store.Document, error) {
	return s.Get(ctx, entityType, name)
}

// GetValue implements store.Store
func (s *Store) GetValue(ctx context.Context, entityType, name string, fields ...string) (map[string]interface{}, error) {
	d, err := s.Get(ctx, entityType, name)
	if err != nil {
		return nil, err
	}
	return store.PickValues(d, fields), nil
}

// Insert implements store.Store
func (s *Store) Insert(ctx context.Context, doc *store.Document) error {
	if err := s.Prepare(ctx, doc, s.exists); err != nil {
		return err
	}
	payload, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (entity_type, name, parent, parent_type, parent_field, body)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		doc.EntityType, doc.Name, doc.Parent, doc.ParentType, doc.ParentField, payload)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.DuplicateEntry(doc.EntityType, doc.Name)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to insert document").
			WithDetail("entity_type", doc.EntityType).
			WithDetail("name", doc.Name)
	}
	return nil
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, doc *store.Document) error {
	if err := s.Validate(ctx, doc, s.exists); err != nil {
		return err
	}
	payload, err := encode(doc)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET parent = $3, parent_type = $4, parent_field = $5, body = $6::jsonb, modified = now()
		WHERE entity_type = $1 AND name = $2`,
		doc.EntityType, doc.Name, doc.Parent, doc.ParentType, doc.ParentField, payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to update document").
			WithDetail("entity_type", doc.EntityType).
			WithDetail("name", doc.Name)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound(doc.EntityType, doc.Name)
	}
	return nil
}

// Close implements store.Store
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) exists(ctx context.Context, entityType, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE entity_type = $1 AND name = $2)`,
		entityType, name).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to check link target").
			WithDetail("entity_type", entityType)
	}
	return ok, nil
}

func encode(doc *store.Document) (string, error) {
	s, err := jsonpool.MarshalString(body{Fields: doc.Fields, Children: doc.Children})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode document").
			WithDetail("name", doc.Name)
	}
	return s, nil
}

func scan(row pgx.Row) (*store.Document, error) {
	var (
		d   store.Document
		raw []byte
	)
	if err := row.Scan(&d.EntityType, &d.Name, &d.Parent, &d.ParentType, &d.ParentField, &raw); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read document")
	}
	var b body
	if err := jsonpool.Unmarshal(raw, &b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode document").
			WithDetail("name", d.Name)
	}
	d.Fields = b.Fields
	if d.Fields == nil {
		d.Fields = make(map[string]interface{})
	}
	d.Children = b.Children
	return &d, nil
}
