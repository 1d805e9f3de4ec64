// Package domain defines the core domain models for the orchestrator.
package domain

// JobStatus represents the status of a backtest job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next is allowed by the
// status lattice queued -> running -> {completed, failed, cancelled}.
// Cancellation of a queued job skips running.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next.Terminal()
	}
	return false
}

// ArtifactType classifies a produced artifact.
type ArtifactType string

const (
	ArtifactTypePlot   ArtifactType = "plot"
	ArtifactTypeLog    ArtifactType = "log"
	ArtifactTypeCSV    ArtifactType = "csv"
	ArtifactTypeConfig ArtifactType = "config"
)

// Role represents a conversation message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// JobEventType represents the type of a job progress event.
type JobEventType string

const (
	JobEventQueued    JobEventType = "job_queued"
	JobEventRunning   JobEventType = "job_running"
	JobEventProgress  JobEventType = "job_progress"
	JobEventCompleted JobEventType = "job_completed"
	JobEventFailed    JobEventType = "job_failed"
	JobEventCancelled JobEventType = "job_cancelled"
)
