package database

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func sampleCompression() *Compression {
	return &Compression{
		ID:             "report_abcdefghijklmnop.zip",
		Filename:       "report.zip",
		Strategy:       "zip",
		OriginalSize:   10240,
		CompressedSize: 512,
		Checksum:       "deadbeef",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRepository_Create(t *testing.T) {
	t.Run("inserts record", func(t *testing.T) {
		repo, mock := setupRepo(t)
		c := sampleCompression()

		mock.ExpectExec("INSERT INTO compressions").
			WithArgs(c.ID, c.Filename, c.Strategy, c.Fallback, c.OriginalSize,
				c.CompressedSize, c.Checksum, c.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(context.Background(), c))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps exec error", func(t *testing.T) {
		repo, mock := setupRepo(t)
		c := sampleCompression()

		mock.ExpectExec("INSERT INTO compressions").
			WithArgs(c.ID, c.Filename, c.Strategy, c.Fallback, c.OriginalSize,
				c.CompressedSize, c.Checksum, c.CreatedAt).
			WillReturnError(errors.New("connection refused"))

		err := repo.Create(context.Background(), c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create compression")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_MarkDownloaded(t *testing.T) {
	at := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)

	t.Run("updates record", func(t *testing.T) {
		repo, mock := setupRepo(t)

		mock.ExpectExec("UPDATE compressions SET downloaded_at").
			WithArgs("id-1", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.MarkDownloaded(context.Background(), "id-1", at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id", func(t *testing.T) {
		repo, mock := setupRepo(t)

		mock.ExpectExec("UPDATE compressions SET downloaded_at").
			WithArgs("missing", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.MarkDownloaded(context.Background(), "missing", at)
		assert.ErrorIs(t, err, ErrCompressionNotFound)
	})
}

func TestRepository_GetStats(t *testing.T) {
	repo, mock := setupRepo(t)

	rows := pgxmock.NewRows([]string{"count", "downloads", "fallbacks", "bytes_in", "bytes_out", "avg"}).
		AddRow(int64(4), int64(3), int64(1), int64(4096), int64(1024), float64(75))
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	stats, err := repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalCompressions: 4,
		TotalDownloads:    3,
		Fallbacks:         1,
		BytesIn:           4096,
		BytesOut:          1024,
		AverageRatio:      75,
	}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	t.Run("applies pending migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("000001_create_compressions").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS compressions").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs("000001_create_compressions").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, RunMigrations(context.Background(), mock))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips applied migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("000001_create_compressions").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, RunMigrations(context.Background(), mock))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back failed migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("000001_create_compressions").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS compressions").
			WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		err = RunMigrations(context.Background(), mock)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
