package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/GetStream/chat-render/api"
	"github.com/GetStream/chat-render/render"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the database connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// ListRecords returns the records of a chat, newest first.
func (pg *Postgres) ListRecords(ctx context.Context, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
	var recs []record
	q := pg.bun.NewSelect().
		Model(&recs).
		Relation("References").
		Relation("Profile").
		Where("record.chat_jid = ?", jid).
		Order("record.created_at DESC").
		Limit(limit).
		Offset(offset)

	if len(excludeIDs) > 0 {
		q = q.Where("record.id NOT IN (?)", bun.In(excludeIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]render.Record, len(recs))
	for i, r := range recs {
		out[i] = r.RenderRecord()
	}

	return out, nil
}

// GetRecord returns one record of a chat. It returns api.ErrNotFound if the
// chat has no such record.
func (pg *Postgres) GetRecord(ctx context.Context, jid, id string) (render.Record, error) {
	var rec record
	err := pg.bun.NewSelect().
		Model(&rec).
		Relation("References").
		Relation("Profile").
		Where("record.id = ?", id).
		Where("record.chat_jid = ?", jid).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return render.Record{}, fmt.Errorf("record %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return render.Record{}, fmt.Errorf("scan: %w", err)
	}
	return rec.RenderRecord(), nil
}

// HasRecord reports whether the chat still holds the record.
func (pg *Postgres) HasRecord(ctx context.Context, jid, id string) (bool, error) {
	ok, err := pg.bun.NewSelect().
		Model((*record)(nil)).
		Where("id = ?", id).
		Where("chat_jid = ?", jid).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return ok, nil
}

// DeleteRecord deletes a record and its references. It returns
// api.ErrNotFound if the chat has no such record.
func (pg *Postgres) DeleteRecord(ctx context.Context, jid, id string) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*record)(nil)).
			Where("id = ?", id).
			Where("chat_jid = ?", jid).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("record %s: %w", id, api.ErrNotFound)
		}
		if _, err := tx.NewDelete().
			Model((*reference)(nil)).
			Where("record_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete references: %w", err)
		}
		return nil
	})
}
