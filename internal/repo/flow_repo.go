package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// FlowRepo flows и глобальные переменные workspace.
//
// Таблицы:
//
//	flows (id uuid, name text, content jsonb, updated_at timestamptz)
//	global_variables (id text, name text, value jsonb)
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Save создаёт flow или заменяет его граф.
func (r *FlowRepo) Save(ctx context.Context, flow *domain.Flow) error {
	content, err := json.Marshal(flow.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO flows (id, name, content, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, content = EXCLUDED.content, updated_at = NOW()
		RETURNING updated_at
	`, flow.ID, flow.Name, content).Scan(&flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save flow: %w", err)
	}

	// Глобальные переменные общие для workspace: значение из графа
	// записывается только для новых переменных.
	for _, gv := range flow.Content.Globals {
		raw, err := json.Marshal(gv.Value)
		if err != nil {
			return fmt.Errorf("marshal global %s: %w", gv.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO global_variables (id, name, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, gv.ID, gv.Name, raw)
		if err != nil {
			return fmt.Errorf("save global %s: %w", gv.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID возвращает flow с графом.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	var (
		flow    domain.Flow
		content []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, content, updated_at
		FROM flows
		WHERE id = $1
	`, id).Scan(&flow.ID, &flow.Name, &content, &flow.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow by id: %w", err)
	}

	if err := json.Unmarshal(content, &flow.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	return &flow, nil
}

// List возвращает flows без графов, последние изменённые первыми.
func (r *FlowRepo) List(ctx context.Context) ([]domain.Flow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, updated_at
		FROM flows
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		var flow domain.Flow
		if err := rows.Scan(&flow.ID, &flow.Name, &flow.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// Delete удаляет flow.
func (r *FlowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Globals возвращает значения глобальных переменных по ID.
// Неизвестные ID отсутствуют в результате.
func (r *FlowRepo) Globals(ctx context.Context, ids []string) (map[string]domain.GlobalVariable, error) {
	result := make(map[string]domain.GlobalVariable, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, value
		FROM global_variables
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list globals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			gv  domain.GlobalVariable
			raw []byte
		)
		if err := rows.Scan(&gv.ID, &gv.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan global: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &gv.Value); err != nil {
				return nil, fmt.Errorf("unmarshal global %s: %w", gv.ID, err)
			}
		}
		result[gv.ID] = gv
	}
	return result, rows.Err()
}

// SetGlobal записывает значение глобальной переменной.
func (r *FlowRepo) SetGlobal(ctx context.Context, id string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal global: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE global_variables SET value = $2 WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("update global: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadSpec возвращает граф flow с актуальными значениями глобальных
// переменных из global_variables.
func (r *FlowRepo) LoadSpec(ctx context.Context, id uuid.UUID) (*domain.FlowSpec, error) {
	flow, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	spec := flow.Content
	ids := make([]string, 0, len(spec.Globals))
	for _, gv := range spec.Globals {
		ids = append(ids, gv.ID)
	}

	current, err := r.Globals(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range spec.Globals {
		if gv, ok := current[spec.Globals[i].ID]; ok {
			spec.Globals[i].Value = gv.Value
		}
	}
	return &spec, nil
}
