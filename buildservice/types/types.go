package types

import "time"

type File struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type BuildParameters struct {
	// generated program text, substituted into the toolchain template
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

type BuildStatus string

const (
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
	BuildTimedOut  BuildStatus = "timedOut"
)

type BuildResult struct {
	ID          string        `json:"id"`
	Status      BuildStatus   `json:"status"`
	ExitCode    int           `json:"exitCode"`
	Output      string        `json:"output"`
	Truncated   bool          `json:"truncated"`
	Workspace   string        `json:"workspace"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}
