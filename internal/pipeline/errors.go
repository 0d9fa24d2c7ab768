package pipeline

import "fmt"

// Kind classifies a stage failure for operators reading task state.
type Kind string

const (
	KindInput    Kind = "input"    // bad or missing parameters
	KindProvider Kind = "provider" // upstream API failed or returned nothing
	KindResource Kind = "resource" // filesystem or external binary trouble
	KindEncoding Kind = "encoding" // ffmpeg render failure
)

// StageError wraps a stage failure with enough context for the task
// registry message and for callers that want the kind.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, kind Kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
