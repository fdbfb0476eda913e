package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/taskname"
	fundingtask "fundflow-settlement/services/funding/task"
)

type TaskHandler struct {
	svc *Service
}

func NewTaskHandler(svc *Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// TaskModule wires the settlement handlers into the asynq worker mux.
var TaskModule = fx.Module("settlement.task",
	fx.Provide(NewService, NewTaskHandler),
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.SettlementEvaluate, h.HandleEvaluate)
	mux.HandleFunc(taskname.SettlementReconcile, h.HandleReconcile)
	mux.HandleFunc(taskname.SettlementCreated, h.HandleCreated)
}

// HandleEvaluate re-checks one campaign against its funding target. Most
// invocations are no-ops; the orchestrator decides everything under lock.
func (h *TaskHandler) HandleEvaluate(ctx context.Context, t *asynq.Task) error {
	var p fundingtask.SettlementEvaluatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal evaluate payload: %v: %w", err, asynq.SkipRetry)
	}

	entry, err := h.svc.CreateIfTargetReached(ctx, CreateRequest{
		CampaignID:  p.CampaignID,
		TriggeredBy: p.TriggeredBy,
	})
	if err != nil {
		// Domain rejections will not change on retry; only transient
		// store failures are worth re-running.
		var base errutil.BaseError
		if errors.As(err, &base) {
			zap.L().Warn("settlement evaluation rejected",
				zap.String("campaign_id", p.CampaignID),
				zap.String("code", string(base.Code)),
				zap.Error(err),
			)
			return fmt.Errorf("evaluate campaign %s: %v: %w", p.CampaignID, err, asynq.SkipRetry)
		}
		return err
	}

	if entry == nil {
		zap.L().Debug("campaign not yet eligible for settlement",
			zap.String("campaign_id", p.CampaignID))
		return nil
	}
	zap.L().Info("settlement ensured",
		zap.String("campaign_id", p.CampaignID),
		zap.String("settlement_id", entry.SettlementID),
		zap.String("status", string(entry.Status)),
	)
	return nil
}

// HandleReconcile audits a campaign's totals and repairs the cached running
// total when the check found drift.
func (h *TaskHandler) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	report, err := h.svc.CheckConsistency(ctx, p.CampaignID)
	if err != nil {
		var base errutil.BaseError
		if errors.As(err, &base) && base.Code == errutil.StatusNotFound {
			return fmt.Errorf("reconcile campaign %s: %v: %w", p.CampaignID, err, asynq.SkipRetry)
		}
		return err
	}
	if report.IsValid {
		return nil
	}

	zap.L().Warn("campaign totals inconsistent",
		zap.String("campaign_id", p.CampaignID),
		zap.Strings("issues", report.Issues),
	)
	if _, err := h.svc.SyncRunningTotal(ctx, p.CampaignID); err != nil {
		return err
	}
	return nil
}

// HandleCreated is the downstream hook for new settlements. Payout execution
// lives outside this service, so for now the event is only logged.
func (h *TaskHandler) HandleCreated(ctx context.Context, t *asynq.Task) error {
	var p SettlementCreatedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal created payload: %v: %w", err, asynq.SkipRetry)
	}
	zap.L().Info("settlement created",
		zap.String("settlement_id", p.SettlementID),
		zap.String("campaign_id", p.CampaignID),
		zap.Int64("net_amount", p.NetAmount),
	)
	return nil
}
