package domain

// EventKind discriminates the update events fanned out to dashboard observers.
type EventKind string

// Event kinds. Duty transitions emit one event each; verification emits a
// single event when an identity binding is finalized.
const (
	EventStart  EventKind = "start"
	EventPause  EventKind = "pause"
	EventResume EventKind = "resume"
	EventEnd    EventKind = "end"
	EventVerify EventKind = "verify"
)

// Event is the tagged union published to the update broadcaster. Delivery is
// fire-and-forget, at most once per currently-connected observer; observers
// that connect later never see it.
type Event struct {
	Kind      EventKind `json:"kind"`
	SubjectID string    `json:"subject_id"`
	ScopeID   string    `json:"scope_id"`
	Payload   any       `json:"payload,omitempty"`
}

// VerifyPayload is the payload carried by EventVerify events.
type VerifyPayload struct {
	ExternalID   string `json:"external_id"`
	ExternalName string `json:"external_name"`
	Fallback     bool   `json:"fallback,omitempty"`
}
