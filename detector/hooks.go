package detector

import (
	"fmt"
	"log"
	"os/exec"

	"github.com/xraylab/eigerhttp/imgrec"
)

// PostAcquisition is a capability invoked once per successful exposure
// with the retrieved files, main first.  Implementations may copy, index,
// or notify; a returned error is logged and surfaced on the last-hook-error
// variable but never changes the detector state.
type PostAcquisition interface {
	Execute(files []imgrec.RetrievedFile) error
}

// NoopHook is the default PostAcquisition; it does nothing
type NoopHook struct{}

// Execute implements PostAcquisition
func (NoopHook) Execute([]imgrec.RetrievedFile) error { return nil }

// ScriptHook runs a command after each exposure with the retrieved local
// paths appended to its arguments
type ScriptHook struct {
	// Command is the program to run
	Command string

	// Args are prepended before the file paths
	Args []string
}

// Execute implements PostAcquisition
func (s ScriptHook) Execute(files []imgrec.RetrievedFile) error {
	args := make([]string, 0, len(s.Args)+len(files))
	args = append(args, s.Args...)
	for _, f := range files {
		args = append(args, f.Path)
	}
	out, err := exec.Command(s.Command, args...).CombinedOutput()
	if len(out) > 0 {
		log.Printf("hook %s: %s", s.Command, out)
	}
	if err != nil {
		return fmt.Errorf("hook %s: %w", s.Command, err)
	}
	return nil
}
