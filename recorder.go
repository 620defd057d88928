package authstate

import "time"

// LookupOutcome classifies a single authoritative profile lookup attempt
type LookupOutcome string

const (
	LookupSuccess  LookupOutcome = "success"
	LookupTimeout  LookupOutcome = "timeout"
	LookupNotFound LookupOutcome = "not_found"
	LookupError    LookupOutcome = "error"
)

// Recorder receives operational measurements from the core
type Recorder interface {
	ProfileLookup(outcome LookupOutcome, elapsed time.Duration)
	ProfileFallback()
	AuthEvent(kind AuthEventKind)
	AuthAction(op AuthOp, success bool)
}

type noopRecorder struct{}

func (noopRecorder) ProfileLookup(LookupOutcome, time.Duration) {}
func (noopRecorder) ProfileFallback()                           {}
func (noopRecorder) AuthEvent(AuthEventKind)                    {}
func (noopRecorder) AuthAction(AuthOp, bool)                    {}

func normalizeRecorder(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
