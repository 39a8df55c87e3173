package domain

// PassStatus is the single status vocabulary used across all layers.
type PassStatus string

const (
	StatusStarting PassStatus = "starting"
	StatusActive   PassStatus = "active"
	StatusComplete PassStatus = "complete"
	StatusError    PassStatus = "error"
)

// Pass numbers for the four user-visible pipeline stages. Entity
// recognition is an internal sub-step of Pass 1 and has no number of
// its own.
const (
	PassSourceSelection = 1
	PassTargeting       = 2
	PassRetrieval       = 3
	PassSynthesis       = 4
)

// ProgressEvent is emitted at pass entry and at pass completion or error.
// The presentation layer keys its four-step indicator directly off Pass
// and Status, so this shape is a wire contract.
type ProgressEvent struct {
	Pass     int            `json:"pass_number"`
	Status   PassStatus     `json:"status"`
	Message  string         `json:"message"`
	Details  string         `json:"details,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageType discriminates the streaming wire messages.
type MessageType string

const (
	MessageAcknowledgment MessageType = "acknowledgment"
	MessageProgress       MessageType = "progress"
	MessageResponse       MessageType = "response"
	MessageError          MessageType = "error"
)

// Message is the discriminated envelope streamed to the presentation layer
// over SSE and websocket alike.
type Message struct {
	Type            MessageType `json:"type"`
	SessionIdentity string      `json:"session_identity"`
	Payload         any         `json:"payload"`
}

// AckPayload acknowledges a submitted query.
type AckPayload struct {
	Query string `json:"query"`
}

// ResponsePayload carries answer content. Streaming deliveries set Chunk
// per token batch with Done=false, then a final Done=true message with the
// request-level fields.
type ResponsePayload struct {
	Chunk    string        `json:"chunk,omitempty"`
	Done     bool          `json:"done"`
	Answer   string        `json:"answer,omitempty"`
	RecordID string        `json:"record_id,omitempty"`
	Degraded []PartitionID `json:"degraded,omitempty"`
	Trimmed  []PartitionID `json:"trimmed,omitempty"`
}

// ErrorPayload is the terminal error message for a request.
type ErrorPayload struct {
	Pass    int    `json:"pass_number,omitempty"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}
