package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tracklab/framesampler/internal/models"
)

// PostgresStore persists sampled pairs and their optional appearance
// embeddings. Embeddings back the similarity lookup used for
// hard-negative mining.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// SimilarSample is one row of a similarity lookup.
type SimilarSample struct {
	SequenceName string
	SearchFrames []int
	Similarity   float64
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// getOrCreateSequence returns the row ID for a sequence, inserting it on
// first sight.
func (s *PostgresStore) getOrCreateSequence(ctx context.Context, name string, frameCount int) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM sequences WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("error checking for existing sequence: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		"INSERT INTO sequences (name, frame_count, created_at) VALUES ($1, $2, $3) RETURNING id",
		name, frameCount, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create sequence entry: %w", err)
	}
	return id, nil
}

// AddSample stores one sampled pair. appearance may be nil when no
// embedding is available for the search crop.
func (s *PostgresStore) AddSample(ctx context.Context, rec models.SampleRecord, appearance []float32) error {
	tmplID, err := s.getOrCreateSequence(ctx, rec.Pair.TemplateSequence, 0)
	if err != nil {
		return err
	}
	searchID, err := s.getOrCreateSequence(ctx, rec.Pair.SearchSequence, 0)
	if err != nil {
		return err
	}

	var emb any
	if appearance != nil {
		emb = pgvector.NewVector(appearance)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO samples
        (job_id, epoch, template_sequence_id, search_sequence_id,
         template_frames, search_frames, positive, relaxed, attempts,
         appearance, drawn_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.JobID, rec.Epoch, tmplID, searchID,
		rec.Pair.TemplateFrames, rec.Pair.SearchFrames,
		rec.Pair.Positive, rec.Pair.Relaxed, rec.Pair.Attempts,
		emb, rec.DrawnAt)
	if err != nil {
		return fmt.Errorf("failed to store sample: %w", err)
	}
	return nil
}

// SimilarSamples returns stored samples closest to the given appearance
// embedding, nearest first. The picker uses this to find hard negatives.
func (s *PostgresStore) SimilarSamples(ctx context.Context, appearance []float32, limit int) ([]SimilarSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT q.name, sa.search_frames, 1 - (sa.appearance <=> $1) AS similarity
        FROM samples sa
        JOIN sequences q ON sa.search_sequence_id = q.id
        WHERE sa.appearance IS NOT NULL
        ORDER BY sa.appearance <=> $1
        LIMIT $2`,
		pgvector.NewVector(appearance), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar samples: %w", err)
	}
	defer rows.Close()

	var results []SimilarSample
	for rows.Next() {
		var r SimilarSample
		if err := rows.Scan(&r.SequenceName, &r.SearchFrames, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similarity results: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// EpochStats aggregates the stored samples for one epoch.
func (s *PostgresStore) EpochStats(ctx context.Context, epoch int) (models.SampleStats, error) {
	st := models.SampleStats{Epoch: epoch}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
                COUNT(*) FILTER (WHERE positive),
                COUNT(*) FILTER (WHERE relaxed),
                COALESCE(AVG(attempts), 0)
        FROM samples WHERE epoch = $1`,
		epoch).Scan(&st.Pairs, &st.Positives, &st.Relaxed, &st.MeanAttempts)
	if err != nil {
		return models.SampleStats{}, fmt.Errorf("failed to aggregate epoch stats: %w", err)
	}
	return st, nil
}

// InitSchema creates the tables and indexes if they do not exist.
func InitSchema(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}
	if !exists {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS sequences (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            frame_count INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS samples (
            id SERIAL PRIMARY KEY,
            job_id UUID NOT NULL,
            epoch INTEGER NOT NULL,
            template_sequence_id INTEGER REFERENCES sequences(id) ON DELETE CASCADE,
            search_sequence_id INTEGER REFERENCES sequences(id) ON DELETE CASCADE,
            template_frames INTEGER[] NOT NULL,
            search_frames INTEGER[] NOT NULL,
            positive BOOLEAN NOT NULL,
            relaxed BOOLEAN NOT NULL,
            attempts INTEGER NOT NULL,
            appearance vector(256),
            drawn_at TIMESTAMPTZ NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_samples_epoch ON samples(epoch);
        CREATE INDEX IF NOT EXISTS idx_samples_job ON samples(job_id);
        CREATE INDEX IF NOT EXISTS idx_samples_appearance ON samples USING ivfflat (appearance vector_l2_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
