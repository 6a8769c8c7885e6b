package pipeline

import "fmt"

// Stage names, in execution order.
const (
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSynthesize = "synthesize"
	StageEncode     = "encode"
)

// StageError reports which pipeline stage failed. A failed run records
// nothing: no turn is added and no later events are emitted.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
