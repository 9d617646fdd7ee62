package domain

// DecisionKind discriminates checkpoint decisions.
type DecisionKind string

const (
	// DecisionRedirect sends the visitor to another funnel location. Used
	// both for forward progress and for rejecting skips and replays, so every
	// GET re-evaluates from stored state instead of trusting the client.
	DecisionRedirect DecisionKind = "redirect"
	// DecisionAdGate sends the visitor out to the ad network, carrying a
	// completion callback scoped to (token, stage).
	DecisionAdGate DecisionKind = "ad_gate"
)

// Decision is the outcome of evaluating a checkpoint request against stored
// progress.
type Decision struct {
	Kind        DecisionKind
	TargetStage Stage
	Location    string
	Token       *Token
}
