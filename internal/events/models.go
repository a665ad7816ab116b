package events

// JobCreatedEvent marks Intake's durable registration of a new job.
type JobCreatedEvent struct {
	JobID              string `json:"jobId"`
	SourceControlKey   string `json:"sourceControlKey"`
	TargetFrameworkKey string `json:"targetFrameworkKey"`
}

// JobTerminalEvent marks a job reaching COMPLETED or FAILED.
type JobTerminalEvent struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	MappingCount int    `json:"mappingCount,omitempty"`
}

// EnrichmentDegradedEvent records S3 falling back to the raw control
// description after AgentClient.enrich failed — observable for operators,
// never surfaced in the client-visible StatusQuery projection.
type EnrichmentDegradedEvent struct {
	JobID            string `json:"jobId"`
	SourceControlKey string `json:"sourceControlKey"`
}

// CandidatesDroppedEvent records S4.3 permanently dropping target
// candidates after a per-item embedding retry failed.
type CandidatesDroppedEvent struct {
	JobID           string `json:"jobId"`
	DroppedCount    int    `json:"droppedCount"`
	ConsideredCount int    `json:"consideredCount"`
}
