package domain

import "time"

type JobKind string

const (
	JobCreate       JobKind = "create"
	JobDelete       JobKind = "delete"
	JobRestart      JobKind = "restart"
	JobBackup       JobKind = "backup"
	JobRestore      JobKind = "restore"
	JobPluginToggle JobKind = "pluginToggle"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

type Job struct {
	ID         string     `json:"id"`
	SiteName   string     `json:"siteName"`
	Kind       JobKind    `json:"kind"`
	State      JobState   `json:"state"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
