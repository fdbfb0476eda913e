package task

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"fundflow-settlement/pkg/taskname"
)

// SettlementEvaluatePayload asks the settlement worker to re-check a campaign
// against its target. Enqueued on every succeeded contribution; the
// orchestrator is idempotent, so speculative evaluation is safe.
type SettlementEvaluatePayload struct {
	CampaignID     string    `json:"campaign_id"`
	ContributionID string    `json:"contribution_id"`
	TriggeredBy    string    `json:"triggered_by"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewSettlementEvaluateTask(p SettlementEvaluatePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.SettlementEvaluate, payload,
		asynq.Queue("critical")), nil
}
