package pipeline

import (
	"time"
)

// Exit codes reported by a run
const (
	ExitOK           = 0 // Every file skipped or processed
	ExitFileFailures = 1 // Run completed with at least one failed file
	ExitFatal        = 2 // Run aborted: setup, discovery or cancellation
)

// FileState is the terminal state of one file within a run
type FileState string

const (
	StateSkipped   FileState = "SKIPPED"
	StateProcessed FileState = "PROCESSED"
	StateFailed    FileState = "FAILED"
)

// Pipeline stages, reported on failure
const (
	StageFingerprint = "fingerprint"
	StageParse       = "parse"
	StageNormalize   = "normalize"
	StageSerialize   = "serialize"
	StageUpload      = "upload"
	StageLoad        = "load"
)

// FileResult records what happened to one candidate file
type FileResult struct {
	Path        string        `json:"path"`
	FileName    string        `json:"file_name"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	State       FileState     `json:"state"`
	DryRun      bool          `json:"dry_run,omitempty"`
	RowCount    int64         `json:"row_count,omitempty"`
	URI         string        `json:"uri,omitempty"`
	JobID       string        `json:"job_id,omitempty"`
	Stage       string        `json:"stage,omitempty"` // Failing stage
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Result summarizes one run
type Result struct {
	RunID      string       `json:"run_id"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Discovered int          `json:"discovered"`
	Processed  int          `json:"processed"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Files      []FileResult `json:"files"`
	Err        error        `json:"-"`
	Error      string       `json:"error,omitempty"`
	ExitCode   int          `json:"exit_code"`
}

// Duration returns the wall time of the run
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) add(fr FileResult) {
	switch fr.State {
	case StateProcessed:
		r.Processed++
	case StateSkipped:
		r.Skipped++
	case StateFailed:
		r.Failed++
	}
	r.Files = append(r.Files, fr)
}

func (r *Result) fatal(err error) {
	r.Err = err
	r.Error = err.Error()
	r.ExitCode = ExitFatal
}

func (r *Result) finalize() {
	if r.Err != nil {
		r.ExitCode = ExitFatal
		return
	}
	if r.Failed > 0 {
		r.ExitCode = ExitFileFailures
		return
	}
	r.ExitCode = ExitOK
}
