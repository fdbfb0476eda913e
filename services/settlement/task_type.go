package settlement

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"fundflow-settlement/pkg/taskname"
)

// SettlementCreatedPayload announces a freshly created settlement to
// downstream consumers (notifications, payout execution).
type SettlementCreatedPayload struct {
	SettlementID string    `json:"settlement_id"`
	CampaignID   string    `json:"campaign_id"`
	NetAmount    int64     `json:"net_amount"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func NewSettlementCreatedTask(p SettlementCreatedPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.SettlementCreated, payload), nil
}

// ReconcilePayload asks the worker to audit one campaign's totals and
// repair the cached running total when it drifted.
type ReconcilePayload struct {
	CampaignID string `json:"campaign_id"`
}

func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.SettlementReconcile, payload,
		asynq.Queue("low")), nil
}
