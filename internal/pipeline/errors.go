package pipeline

import "fmt"

// IncompatibleArtifactsError is returned when a codec and a model that were
// not produced by the same fit are used together.
type IncompatibleArtifactsError struct {
	CodecID      string
	ModelCodecID string
	Reason       string
}

func (e *IncompatibleArtifactsError) Error() string {
	return fmt.Sprintf("incompatible artifacts: %s (codec %s, model trained on codec %s)", e.Reason, e.CodecID, e.ModelCodecID)
}
