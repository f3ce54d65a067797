package events

// Kind identifies a negotiation transition point
type Kind string

const (
	KindEngagementCreated   Kind = "engagement.created"
	KindProviderAssigned    Kind = "engagement.provider_assigned"
	KindCardSubmitted       Kind = "card.submitted"
	KindCardCountered       Kind = "card.countered"
	KindResponseRecorded    Kind = "response.recorded"
	KindAgreementReached    Kind = "agreement.reached"
	KindEngagementDeclined  Kind = "engagement.declined"
	KindExecutionStarted    Kind = "execution.started"
	KindProgressUpdated     Kind = "progress.updated"
	KindCompletionSubmitted Kind = "completion.submitted"
	KindCompletionResolved  Kind = "completion.resolved"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Envelope is the payload wrapper for every negotiation event
type Envelope struct {
	SchemaVersion string `json:"schema_version"`
	Payload       any    `json:"payload,omitempty"`
}
