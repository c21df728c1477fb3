package license

import "time"

const (
	ExpirySweepTask = "license:expiry_sweep"
)

type ExpirySweepPayload struct {
	Before  time.Time `json:"before"`
	TraceID string    `json:"trace_id,omitempty"`
}
