package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pixland/pixops/internal/types"
)

// Postgres keeps image records in a table with a JSONB metadata column.
type Postgres struct {
	conn   *pgx.Conn
	dbName string
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{conn: conn, dbName: conn.Config().Database}, nil
}

// initSchema creates the images table if it doesn't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			blob_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (s *Postgres) Name() string {
	return "postgres/" + s.dbName
}

// Close terminates the database connection.
func (s *Postgres) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

func (s *Postgres) CountImages(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM images").Scan(&n)
	return n, err
}

// EachImage loads the rows before calling fn: a single pgx.Conn cannot run the
// caller's updates while a result set is still open.
func (s *Postgres) EachImage(ctx context.Context, fn func(types.Image) error) error {
	images, err := s.query(ctx, `SELECT id, url, blob_name, '' AS status, metadata FROM images ORDER BY created_at, id`)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := fn(img); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) SampleImages(ctx context.Context, limit int) ([]types.Image, error) {
	return s.query(ctx, `SELECT id, url, blob_name, status, metadata FROM images ORDER BY created_at, id LIMIT $1`, limit)
}

func (s *Postgres) query(ctx context.Context, sql string, args ...any) ([]types.Image, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Image, error) {
		var img types.Image
		var meta []byte
		if err := row.Scan(&img.ID, &img.URL, &img.BlobName, &img.Status, &meta); err != nil {
			return img, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &img.Metadata); err != nil {
				img.Metadata = types.Metadata{}
				img.DecodeErr = fmt.Errorf("failed to decode metadata of image %s: %w", img.ID, err)
			}
		}
		img.Ref = img.ID
		return img, nil
	})
}

func (s *Postgres) SetDetectedFaces(ctx context.Context, img types.Image, faces []types.DetectedFace, status string) error {
	facesJSON, err := json.Marshal(nonNilFaces(faces))
	if err != nil {
		return err
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE images
		SET metadata = jsonb_set(metadata, '{detectedFaces}', $1::jsonb, true),
		    status = $2
		WHERE id = $3
	`, string(facesJSON), status, img.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrImageNotFound, img.ID)
	}
	return nil
}
