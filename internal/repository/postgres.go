// Package repository provides PostgreSQL persistence for unified records
// and pipeline run history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/feedpulse/feedpulse/internal/pipeline"
	"github.com/feedpulse/feedpulse/internal/record"
)

var ErrRunImmutable = errors.New("pipeline run is terminal and cannot be updated")

type PostgresRepository struct {
	db *sql.DB
}

// RunFilter narrows a run history query. Zero values mean "no filter".
type RunFilter struct {
	PipelineName string
	Status       pipeline.RunStatus
	Since        time.Time
	Limit        int
}

func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (*record.Record, error) {
	query := `
		SELECT
			external_id, title, content, url, author, published_at,
			source_type, source_name, metadata,
			sentiment_label, sentiment_score, entities, keywords
		FROM records
		WHERE external_id = $1
	`

	var (
		rec              record.Record
		content, url     sql.NullString
		author, sentLbl  sql.NullString
		sourceName       sql.NullString
		sentScore        sql.NullFloat64
		metadataJSON     []byte
		entitiesJSON     []byte
		keywordsJSON     []byte
	)

	err := r.db.QueryRowContext(ctx, query, externalID).Scan(
		&rec.ExternalID,
		&rec.Title,
		&content,
		&url,
		&author,
		&rec.PublishedAt,
		&rec.SourceType,
		&sourceName,
		&metadataJSON,
		&sentLbl,
		&sentScore,
		&entitiesJSON,
		&keywordsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Content = content.String
	rec.URL = url.String
	rec.Author = author.String
	rec.SourceName = sourceName.String
	rec.SentimentLabel = sentLbl.String
	rec.SentimentScore = sentScore.Float64

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &rec.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &rec.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}

	return &rec, nil
}

// Upsert stores a record by external ID. An existing row has its mutable
// fields merged via record.MergeFrom before the write, so the set of
// update-able columns stays the single contract defined on the record type.
// Last writer wins under concurrent pipelines.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *record.Record) (bool, error) {
	existing, err := r.FindByExternalID(ctx, rec.ExternalID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		existing.MergeFrom(rec)
		return false, r.update(ctx, existing)
	}

	return true, r.insert(ctx, rec)
}

func (r *PostgresRepository) insert(ctx context.Context, rec *record.Record) error {
	metadata, entities, keywords, err := marshalRecordFields(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO records (
			external_id, title, content, url, author, published_at,
			source_type, source_name, metadata,
			sentiment_label, sentiment_score, entities, keywords,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.ExternalID,
		rec.Title,
		rec.Content,
		rec.URL,
		rec.Author,
		rec.PublishedAt,
		rec.SourceType,
		rec.SourceName,
		metadata,
		rec.SentimentLabel,
		rec.SentimentScore,
		entities,
		keywords,
	)

	return err
}

func (r *PostgresRepository) update(ctx context.Context, rec *record.Record) error {
	metadata, entities, keywords, err := marshalRecordFields(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE records SET
			title = $1, content = $2, url = $3, author = $4,
			published_at = $5, source_name = $6, metadata = $7,
			sentiment_label = $8, sentiment_score = $9,
			entities = $10, keywords = $11, updated_at = NOW()
		WHERE external_id = $12
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.Title,
		rec.Content,
		rec.URL,
		rec.Author,
		rec.PublishedAt,
		rec.SourceName,
		metadata,
		rec.SentimentLabel,
		rec.SentimentScore,
		entities,
		keywords,
		rec.ExternalID,
	)

	return err
}

func marshalRecordFields(rec *record.Record) (metadata, entities, keywords []byte, err error) {
	metadata, err = json.Marshal(rec.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	entities, err = json.Marshal(rec.Entities)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal entities: %w", err)
	}
	keywords, err = json.Marshal(rec.Keywords)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal keywords: %w", err)
	}

	return metadata, entities, keywords, nil
}

func (r *PostgresRepository) SaveRun(ctx context.Context, run *pipeline.Run) error {
	query := `
		INSERT INTO pipeline_runs (
			run_id, pipeline_name, trigger_type, status, started_at,
			records_processed, records_stored, records_updated, records_failed,
			retry_count, is_retry, original_run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var originalRunID any
	if run.OriginalRunID != "" {
		originalRunID = run.OriginalRunID
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.PipelineName,
		run.TriggerType,
		run.Status,
		run.StartedAt,
		run.RecordsProcessed,
		run.RecordsStored,
		run.RecordsUpdated,
		run.RecordsFailed,
		run.RetryCount,
		run.IsRetry,
		originalRunID,
	)

	return err
}

// UpdateRun writes the terminal outcome of a run. Only rows still in the
// running state are updatable; a terminal row is immutable.
func (r *PostgresRepository) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	query := `
		UPDATE pipeline_runs SET
			status = $1,
			completed_at = $2,
			duration_seconds = $3,
			records_processed = $4,
			records_stored = $5,
			records_updated = $6,
			records_failed = $7,
			data_quality_score = $8,
			avg_processing_time_ms = $9,
			error_message = NULLIF($10, ''),
			error_type = NULLIF($11, ''),
			stack_trace = NULLIF($12, '')
		WHERE run_id = $13 AND status = 'running'
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		run.Status,
		run.CompletedAt,
		run.DurationSeconds,
		run.RecordsProcessed,
		run.RecordsStored,
		run.RecordsUpdated,
		run.RecordsFailed,
		run.DataQualityScore,
		run.AvgProcessingTimeMs,
		run.ErrorMessage,
		run.ErrorType,
		run.StackTrace,
		run.RunID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", run.RunID, ErrRunImmutable)
	}

	return nil
}

func (r *PostgresRepository) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	query := runSelectColumns + ` FROM pipeline_runs WHERE run_id = $1`

	row := r.db.QueryRowContext(ctx, query, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns run history newest first, optionally filtered by
// pipeline name, status and start time.
func (r *PostgresRepository) ListRuns(ctx context.Context, filter RunFilter) ([]pipeline.Run, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.PipelineName != "" {
		args = append(args, filter.PipelineName)
		conditions = append(conditions, fmt.Sprintf("pipeline_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	query := runSelectColumns + ` FROM pipeline_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var runs []pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

const runSelectColumns = `
	SELECT
		run_id, pipeline_name, trigger_type, status,
		started_at, completed_at, duration_seconds,
		records_processed, records_stored, records_updated, records_failed,
		data_quality_score, avg_processing_time_ms,
		error_message, error_type, stack_trace,
		retry_count, is_retry, original_run_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*pipeline.Run, error) {
	var (
		run               pipeline.Run
		completedAt       sql.NullTime
		durationSeconds   sql.NullFloat64
		qualityScore      sql.NullFloat64
		avgProcessingMs   sql.NullFloat64
		errMsg, errType   sql.NullString
		stackTrace        sql.NullString
		originalRunID     sql.NullString
	)

	if err := row.Scan(
		&run.RunID,
		&run.PipelineName,
		&run.TriggerType,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&durationSeconds,
		&run.RecordsProcessed,
		&run.RecordsStored,
		&run.RecordsUpdated,
		&run.RecordsFailed,
		&qualityScore,
		&avgProcessingMs,
		&errMsg,
		&errType,
		&stackTrace,
		&run.RetryCount,
		&run.IsRetry,
		&originalRunID,
	); err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.DurationSeconds = durationSeconds.Float64
	run.DataQualityScore = qualityScore.Float64
	run.AvgProcessingTimeMs = avgProcessingMs.Float64
	run.ErrorMessage = errMsg.String
	run.ErrorType = errType.String
	run.StackTrace = stackTrace.String
	run.OriginalRunID = originalRunID.String

	return &run, nil
}

func (r *PostgresRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
