package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds, one per failure surface. Stage failures are wrapped with the
// matching sentinel so callers can classify without string matching.
var (
	ErrGeneration  = errors.New("generation error")
	ErrSynthesis   = errors.New("synthesis error")
	ErrTiming      = errors.New("timing error")
	ErrPluginLoad  = errors.New("plugin load error")
	ErrPluginExec  = errors.New("plugin execution error")
	ErrComposition = errors.New("composition error")
	ErrUpload      = errors.New("upload error")
)

// wrapStage tags err with the error kind and the failing stage name.
func wrapStage(kind error, stage string, err error) error {
	return fmt.Errorf("%w: stage %s: %w", kind, stage, err)
}
