package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vipplay/content-backend/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			type,
			user_id,
			status,
			payload,
			attempts,
			result,
			error_message,
			created_at,
			started_at,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		string(job.Type),
		job.UserID,
		string(job.Status),
		job.Payload,
		job.Attempts,
		job.Result,
		job.ErrorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job     domain.Job
		jobType string
		status  string
		payload []byte
		result  []byte
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, type, user_id, status, payload, attempts, result, error_message, created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&jobType,
		&job.UserID,
		&status,
		&payload,
		&job.Attempts,
		&result,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.Payload = json.RawMessage(payload)
	job.Result = json.RawMessage(result)
	return &job, nil
}

// CompareAndSetStatus applies the transition in a single conditional UPDATE.
// The status predicate in the WHERE clause is the only concurrency control the
// job store needs: a stale worker's write simply matches zero rows.
func (r *PostgresJobsRepository) CompareAndSetStatus(
	ctx context.Context,
	jobID string,
	expected domain.JobStatus,
	next domain.JobStatus,
	update StatusUpdate,
) (bool, error) {
	attemptsDelta := 0
	if update.IncrementAttempts {
		attemptsDelta = 1
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
			result = COALESCE($4, result),
			error_message = CASE WHEN $5 <> '' THEN $5 ELSE error_message END,
			started_at = COALESCE(started_at, $6),
			completed_at = COALESCE($7, completed_at),
			attempts = attempts + $8
		WHERE id = $1 AND status = $2
	`,
		jobID,
		string(expected),
		string(next),
		update.Result,
		update.ErrorMessage,
		update.StartedAt,
		update.CompletedAt,
		attemptsDelta,
	)
	if err != nil {
		return false, fmt.Errorf("cas job status: %w", err)
	}
	if command.RowsAffected() == 0 {
		exists, existsErr := r.jobExists(ctx, jobID)
		if existsErr != nil {
			return false, existsErr
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *PostgresJobsRepository) CountActiveJobs(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM jobs
		WHERE user_id = $1 AND status IN ('queued', 'processing')
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

func (r *PostgresJobsRepository) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.JobListItem, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	baseQuery, args := buildJobFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT id, type, status, created_at
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.JobListItem, 0)
	for rows.Next() {
		var (
			item      domain.JobListItem
			jobType   string
			status    string
			createdAt time.Time
		)
		if err := rows.Scan(&item.JobID, &jobType, &status, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan job item: %w", err)
		}
		item.Type = domain.JobType(jobType)
		item.Status = domain.JobStatus(status)
		item.CreatedAt = createdAt
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate job items: %w", rows.Err())
	}

	return items, total, nil
}

func (r *PostgresJobsRepository) jobExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check job exists: %w", err)
	}
	return exists, nil
}

func buildJobFilters(filter domain.JobListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM jobs WHERE 1=1")

	args := make([]any, 0, 2)
	argIndex := 1

	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query.WriteString(fmt.Sprintf(" AND user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}
	if filter.Type != "" {
		query.WriteString(fmt.Sprintf(" AND type = $%d", argIndex))
		args = append(args, string(filter.Type))
		argIndex++
	}

	return query.String(), args
}
