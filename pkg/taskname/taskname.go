package taskname

const (
	SettlementEvaluate  = "settlement:evaluate"
	SettlementCreated   = "settlement:created"
	SettlementReconcile = "settlement:reconcile"
)
