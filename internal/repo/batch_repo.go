package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// BatchRepo batch и их ячейки.
//
// Таблицы:
//
//	batches (id, flow_id, status, row_count, repeat_times, concurrency_limit,
//	         error, created_at, finished_at)
//	batch_cells (batch_id, row_index, iteration, run_id, status, outputs jsonb,
//	             messages jsonb, error, PRIMARY KEY (batch_id, row_index, iteration))
type BatchRepo struct {
	pool *pgxpool.Pool
}

// NewBatchRepo создаёт BatchRepo.
func NewBatchRepo(pool *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{pool: pool}
}

// Create создаёт batch в статусе RUNNING.
// Повторный запрос с тем же ID возвращает ErrAlreadyExists.
func (r *BatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.Status = domain.BatchStatusRunning

	result, err := r.pool.Exec(ctx, `
		INSERT INTO batches (id, flow_id, status, row_count, repeat_times, concurrency_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, b.ID, b.FlowID, b.Status, b.RowCount, b.RepeatTimes, b.ConcurrencyLimit, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает batch.
func (r *BatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	var (
		b      domain.Batch
		errMsg *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, flow_id, status, row_count, repeat_times, concurrency_limit,
		       error, created_at, finished_at
		FROM batches
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.FlowID,
		&b.Status,
		&b.RowCount,
		&b.RepeatTimes,
		&b.ConcurrencyLimit,
		&errMsg,
		&b.CreatedAt,
		&b.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if errMsg != nil {
		b.Error = *errMsg
	}
	return &b, nil
}

// SaveCell записывает ячейку. Ячейка пишется один раз: повторная
// запись возвращает ErrAlreadyExists.
func (r *BatchRepo) SaveCell(ctx context.Context, cell *domain.BatchCell) error {
	outputs, err := json.Marshal(cell.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	messages, err := json.Marshal(cell.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		INSERT INTO batch_cells (batch_id, row_index, iteration, run_id, status, outputs, messages, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (batch_id, row_index, iteration) DO NOTHING
	`,
		cell.BatchID,
		cell.Row,
		cell.Iteration,
		cell.RunID,
		cell.Status,
		outputs,
		messages,
		nullString(cell.Error),
	)
	if err != nil {
		return fmt.Errorf("insert batch cell: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ListCells возвращает ячейки batch по строкам и повторам.
func (r *BatchRepo) ListCells(ctx context.Context, batchID uuid.UUID) ([]domain.BatchCell, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT batch_id, row_index, iteration, run_id, status, outputs, messages, error
		FROM batch_cells
		WHERE batch_id = $1
		ORDER BY row_index, iteration
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch cells: %w", err)
	}
	defer rows.Close()

	var cells []domain.BatchCell
	for rows.Next() {
		var (
			cell              domain.BatchCell
			outputs, messages []byte
			errMsg            *string
		)
		if err := rows.Scan(
			&cell.BatchID,
			&cell.Row,
			&cell.Iteration,
			&cell.RunID,
			&cell.Status,
			&outputs,
			&messages,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan batch cell: %w", err)
		}
		if err := json.Unmarshal(outputs, &cell.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		if err := json.Unmarshal(messages, &cell.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
		if errMsg != nil {
			cell.Error = *errMsg
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// Finish переводит batch в терминальный статус.
// Уже завершённый batch возвращает ErrInvalidState.
func (r *BatchRepo) Finish(ctx context.Context, id uuid.UUID, status domain.BatchStatus, errMsg string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE batches
		SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, status, nullString(errMsg), domain.BatchStatusRunning)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
