package domain

import (
	"encoding/json"
	"time"
)

// JobRequest is the immutable input for a backtest job.
type JobRequest struct {
	Strategy  string   `json:"strategy"`
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Notes     string   `json:"notes,omitempty"`
	Persist   bool     `json:"persist,omitempty"`
	Image     string   `json:"image,omitempty"`
}

// Job represents a single backtest execution.
type Job struct {
	JobID     string          `json:"job_id"`
	Request   JobRequest      `json:"request"`
	Status    JobStatus       `json:"status"`
	Session   string          `json:"session,omitempty"` // sandbox session name once assigned
	CreatedAt time.Time       `json:"created_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Result    *ResultEnvelope `json:"result,omitempty"`
}

// ContainerInfo describes the sandbox session a job ran in.
type ContainerInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Artifact is a single output produced by a backtest run.
type Artifact struct {
	Type    ArtifactType `json:"type"`
	Path    string       `json:"path,omitempty"`
	Content string       `json:"content,omitempty"`
}

// ResultEnvelope is the terminal, immutable summary of a job's outcome.
type ResultEnvelope struct {
	Status    JobStatus          `json:"status"`
	Summary   string             `json:"summary"`
	Metrics   map[string]float64 `json:"metrics"`
	Artifacts []Artifact         `json:"artifacts"`
	Container ContainerInfo      `json:"container"`
}

// JobEvent is one progress notification recorded for a job. Events carry a
// per-job sequence number so consumers can deduplicate at-least-once delivery.
type JobEvent struct {
	JobID   string          `json:"job_id"`
	Seq     int64           `json:"seq"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    JobEventType    `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobUpdate is the event shape delivered to dispatcher subscribers.
type JobUpdate struct {
	JobID    string          `json:"job_id"`
	Seq      int64           `json:"seq"`
	Status   JobStatus       `json:"status"`
	Message  string          `json:"message,omitempty"`
	Envelope *ResultEnvelope `json:"envelope,omitempty"`
}
