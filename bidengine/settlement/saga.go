package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SagaStep is one unit of a compensating transaction. Execute receives the
// results of all prior steps in order; Rollback receives this step's own
// result and undoes its effect. A nil Rollback marks the step as
// uncompensatable (e.g. appends to the bid-history ledger).
type SagaStep struct {
	Description string
	Execute     func(ctx context.Context, prior []any) (any, error)
	Rollback    func(ctx context.Context, result any) error
}

// SagaExecutor runs ordered steps with reverse-order compensation on
// failure. It stands in for multi-table transactions the row store does not
// provide, and is shared by auction creation and bid placement.
type SagaExecutor struct{}

func NewSagaExecutor() *SagaExecutor {
	return &SagaExecutor{}
}

// Run executes steps in order, threading each result forward. On failure at
// step k it rolls back steps k-1..0 best-effort: a rollback failure is
// logged and swallowed, never returned. The returned error wraps the failing
// step's error; on success the per-step results are returned in order.
func (e *SagaExecutor) Run(ctx context.Context, name string, steps []SagaStep) ([]any, error) {
	txnID := uuid.NewString()
	results := make([]any, 0, len(steps))

	for i, step := range steps {
		result, err := step.Execute(ctx, results)
		if err != nil {
			slog.Error("Saga step failed, compensating",
				slog.String("saga", name),
				slog.String("txn_id", txnID),
				slog.String("step", step.Description),
				slog.Int("step_index", i),
				slog.Any("error", err))

			e.compensate(ctx, name, txnID, steps[:i], results)
			return nil, fmt.Errorf("saga %s failed at step %q: %w", name, step.Description, err)
		}
		results = append(results, result)
	}

	slog.Debug("Saga completed",
		slog.String("saga", name),
		slog.String("txn_id", txnID),
		slog.Int("steps", len(steps)))

	return results, nil
}

func (e *SagaExecutor) compensate(ctx context.Context, name, txnID string, completed []SagaStep, results []any) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}
		if err := step.Rollback(ctx, results[i]); err != nil {
			// Best effort: surfaced via audit alerting, never re-thrown.
			slog.Error("Saga rollback failed",
				slog.String("saga", name),
				slog.String("txn_id", txnID),
				slog.String("step", step.Description),
				slog.Any("error", err))
		}
	}
}
