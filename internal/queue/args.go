package queue

import "github.com/riverqueue/river"

const JobKind = "mapping_request"

// MappingRequestArgs is the queue message: a pointer to the Job that
// Intake already durably created in JobStore. The message carries only the
// jobId — everything else needed for the Orchestrator's run is re-read
// from the Job record, so redelivery after a crash is always safe.
type MappingRequestArgs struct {
	JobID string `json:"jobId"`
}

func (MappingRequestArgs) Kind() string {
	return JobKind
}

func (MappingRequestArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: DefaultMaxReceiveCount,
	}
}

// DefaultMaxReceiveCount mirrors config.PipelineConfig.MaxReceiveCount's
// default; InsertOpts supplied explicitly at Enqueue time take precedence.
const DefaultMaxReceiveCount = 3
