package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/veil/internal/types"
)

// Region sources.
const (
	SourceDetector = "detector"
	SourceManual   = "manual"
)

// Store manages the PostgreSQL connection holding face annotations.
type Store struct {
	conn *pgx.Conn
}

// ImageSummary is one row of the image listing.
type ImageSummary struct {
	ID        string
	Path      string
	Width     int
	Height    int
	Regions   int
	IndexedAt time.Time
}

// New establishes a connection to the database and migrates the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS image_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_regions (
			id BIGSERIAL PRIMARY KEY,
			image_id TEXT NOT NULL REFERENCES image_metadata(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION NOT NULL,
			height DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS face_regions_image_idx ON face_regions (image_id, seq);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureImageMetadata registers the image. If it exists, it updates the timestamp and size.
func (s *Store) EnsureImageMetadata(ctx context.Context, imageID, path string, width, height int) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO image_metadata (id, path, width, height, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path,
			width = EXCLUDED.width, height = EXCLUDED.height
	`, imageID, path, width, height)
	return err
}

// ClearRegions deletes the regions of one source so a re-scan does not duplicate them.
func (s *Store) ClearRegions(ctx context.Context, imageID, source string) error {
	_, err := s.conn.Exec(ctx, "DELETE FROM face_regions WHERE image_id = $1 AND source = $2", imageID, source)
	return err
}

// InsertRegions appends regions for an image, after any already stored, preserving their order.
func (s *Store) InsertRegions(ctx context.Context, imageID string, regions []types.Region, source string) error {
	if len(regions) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var next int
	err = tx.QueryRow(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM face_regions WHERE image_id = $1", imageID).Scan(&next)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, r := range regions {
		batch.Queue(`
			INSERT INTO face_regions (image_id, seq, x, y, width, height, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, imageID, next+i, r.X, r.Y, r.Width, r.Height, source)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetRegions returns the stored regions of an image in blur order.
func (s *Store) GetRegions(ctx context.Context, imageID string) ([]types.Region, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT x, y, width, height FROM face_regions WHERE image_id = $1 ORDER BY seq, id
	`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []types.Region
	for rows.Next() {
		var r types.Region
		if err := rows.Scan(&r.X, &r.Y, &r.Width, &r.Height); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// ListImages returns every indexed image with its region count, newest first.
func (s *Store) ListImages(ctx context.Context) ([]ImageSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT m.id, m.path, m.width, m.height, COUNT(r.id), m.indexed_at
		FROM image_metadata m
		LEFT JOIN face_regions r ON r.image_id = m.id
		GROUP BY m.id
		ORDER BY m.indexed_at DESC, m.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageSummary
	for rows.Next() {
		var im ImageSummary
		if err := rows.Scan(&im.ID, &im.Path, &im.Width, &im.Height, &im.Regions, &im.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS face_regions CASCADE;
		DROP TABLE IF EXISTS image_metadata CASCADE;
	`)
	return err
}
