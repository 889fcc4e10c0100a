package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const chunkTable = "rag_chunks"

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertBatch writes all entries in one transaction. An existing id fails the
// whole batch with ErrConflict.
func (r *ChunkRepo) InsertBatch(ctx context.Context, entries []model.IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().Unix()
	data := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		data = append(data, map[string]interface{}{
			"id":        e.ID,
			"content":   e.Text,
			"embedding": pgvector.NewVector(e.Embedding),
			"ctime":     now,
		})
	}
	sqlStr, args, err := builder.BuildInsert(chunkTable, data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return fmt.Errorf("insert chunks: %w", appErr.ErrConflict)
		}
		return err
	}
	return tx.Commit()
}

func (r *ChunkRepo) ListAll(ctx context.Context) ([]string, []string, error) {
	where := map[string]interface{}{
		"_orderby": "seq asc",
	}
	sqlStr, args, err := builder.BuildSelect(chunkTable, where, []string{"id", "content"})
	if err != nil {
		return nil, nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	ids := []string{}
	texts := []string{}
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		texts = append(texts, content)
	}
	return ids, texts, rows.Err()
}

func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	sqlStr, args, err := builder.BuildSelect(chunkTable, nil, []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var n int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Nearest ranks entries with a pgvector distance operator such as <=> or <->.
func (r *ChunkRepo) Nearest(ctx context.Context, embedding []float32, op string, k int) ([]model.QueryMatch, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding %s $1 AS distance
		FROM %s
		ORDER BY distance ASC, seq ASC
		LIMIT $2
	`, op, chunkTable)
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := make([]model.QueryMatch, 0, k)
	for rows.Next() {
		var m model.QueryMatch
		if err := rows.Scan(&m.ID, &m.Text, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
