package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docrag/internal/model"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	dim INTEGER NOT NULL
)`

type sqliteConfig struct {
	Path     string `json:"path"`
	Distance string `json:"distance"`
}

// SQLiteIndex persists entries in a single file and scans them on query.
type SQLiteIndex struct {
	db     *sql.DB
	path   string
	metric Metric
}

func init() {
	Register("sqlite", createSQLiteIndex)
}

func createSQLiteIndex(ctx context.Context, args Args) (VectorIndex, error) {
	cfg := &sqliteConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	metric, err := ParseMetric(cfg.Distance)
	if err != nil {
		return nil, err
	}
	return OpenSQLite(ctx, cfg.Path, metric)
}

func OpenSQLite(ctx context.Context, path string, metric Metric) (*SQLiteIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite index path is required: %w", ErrUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w: %w", ErrUnavailable, err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w: %w", ErrUnavailable, err)
	}
	logutil.GetLogger(ctx).Info("sqlite index opened", zap.String("path", path), zap.String("distance", string(metric)))
	return &SQLiteIndex{db: db, path: path, metric: metric}, nil
}

func (s *SQLiteIndex) Add(ctx context.Context, entries []model.IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := validateEntries(entries, dim, nil); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrWrite, err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (id, content, embedding, dim) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w: %w", ErrWrite, err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Text, encodeVector(e.Embedding), len(e.Embedding)); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("entry %s: %w: %w", e.ID, ErrWrite, ErrDuplicateID)
			}
			return fmt.Errorf("insert entry %s: %w: %w", e.ID, ErrWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %w", ErrWrite, err)
	}
	return nil
}

func (s *SQLiteIndex) GetAll(ctx context.Context) (*model.IndexSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, content FROM chunks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list entries: %w: %w", ErrQuery, err)
	}
	defer rows.Close()
	snap := &model.IndexSnapshot{IDs: []string{}, Texts: []string{}}
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan entry: %w: %w", ErrQuery, err)
		}
		snap.IDs = append(snap.IDs, id)
		snap.Texts = append(snap.Texts, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w: %w", ErrQuery, err)
	}
	return snap, nil
}

func (s *SQLiteIndex) Query(ctx context.Context, embedding []float32, k int) ([]model.QueryMatch, error) {
	if k <= 0 {
		return []model.QueryMatch{}, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, content, embedding, dim FROM chunks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w: %w", ErrQuery, err)
	}
	defer rows.Close()
	matches := make([]model.QueryMatch, 0)
	for rows.Next() {
		var (
			id, content string
			blob        []byte
			dim         int
		)
		if err := rows.Scan(&id, &content, &blob, &dim); err != nil {
			return nil, fmt.Errorf("scan entry: %w: %w", ErrQuery, err)
		}
		if dim != len(embedding) {
			return nil, fmt.Errorf("query has %d dims, want %d: %w: %w", len(embedding), dim, ErrQuery, ErrDimension)
		}
		matches = append(matches, model.QueryMatch{
			ID:       id,
			Text:     content,
			Distance: s.metric.Distance(embedding, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w: %w", ErrQuery, err)
	}
	return sortMatches(matches, k), nil
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w: %w", ErrQuery, err)
	}
	return n, nil
}

func (s *SQLiteIndex) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT dim FROM chunks ORDER BY seq LIMIT 1").Scan(&dim); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return int(dim.Int64), nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
