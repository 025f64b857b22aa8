package pipeline

// ResultKind classifies a completed pipeline run
type ResultKind string

const (
	KindSuccess  ResultKind = "success"
	KindDegraded ResultKind = "degraded"
	KindStopped  ResultKind = "stopped"   // blocked with user options
	KindAwaitAck ResultKind = "await_ack" // halted pending acknowledgement
	KindRedirect ResultKind = "redirect"  // routed into a goal flow
	KindError    ResultKind = "error"
)

// Result is the pipeline's final output for one request
type Result struct {
	Kind     ResultKind `json:"kind"`
	Response string     `json:"response,omitempty"`
	Warning  string     `json:"warning,omitempty"`
	Stance   string     `json:"stance,omitempty"`

	// set on await_ack
	AckToken string `json:"ackToken,omitempty"`

	// set on stopped
	UserOptions []string `json:"userOptions,omitempty"`

	// set on redirect
	RedirectTarget string `json:"redirectTarget,omitempty"`
	RedirectTopic  string `json:"redirectTopic,omitempty"`

	// set on error
	ErrorCode string `json:"errorCode,omitempty"`

	// set on degraded
	DegradationReason string `json:"degradationReason,omitempty"`

	SparkText     string       `json:"sparkText,omitempty"`
	RequestID     string       `json:"requestId,omitempty"`
	TotalTimeMs   int64        `json:"totalTimeMs,omitempty"`
	Regenerations int          `json:"regenerations,omitempty"`
	Records       []GateRecord `json:"records,omitempty"`
}
