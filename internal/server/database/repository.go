package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCompressionNotFound = errors.New("compression not found")
)

// Repository records compressions and downloads.
type Repository struct {
	db DBTX
}

// NewRepository creates a new Repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// Create inserts a new compression record.
func (r *Repository) Create(ctx context.Context, c *Compression) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO compressions (
			id, filename, strategy, fallback, original_size,
			compressed_size, checksum, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		c.ID,
		c.Filename,
		c.Strategy,
		c.Fallback,
		c.OriginalSize,
		c.CompressedSize,
		c.Checksum,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create compression: %w", err)
	}
	return nil
}

// MarkDownloaded stamps the download time of a compression.
func (r *Repository) MarkDownloaded(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE compressions SET downloaded_at = $2 WHERE id = $1 AND downloaded_at IS NULL", id, at)
	if err != nil {
		return fmt.Errorf("failed to mark download: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompressionNotFound
	}
	return nil
}

// GetStats returns aggregate statistics over every recorded compression.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(downloaded_at),
			COUNT(*) FILTER (WHERE fallback),
			COALESCE(SUM(original_size), 0),
			COALESCE(SUM(compressed_size), 0),
			COALESCE(AVG(
				CASE WHEN original_size > 0
					THEN (original_size - compressed_size)::float8 / original_size * 100
				END
			), 0)
		FROM compressions
	`).Scan(
		&stats.TotalCompressions,
		&stats.TotalDownloads,
		&stats.Fallbacks,
		&stats.BytesIn,
		&stats.BytesOut,
		&stats.AverageRatio,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
