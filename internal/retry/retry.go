// Package retry decides whether a session's output was substantial enough to
// accept, or whether the harness should retry the same iteration before
// giving up and skipping it.
package retry

import "fmt"

// Decision is the outcome of evaluating one session attempt against the
// configured output threshold.
type Decision struct {
	kind    decisionKind
	Attempt int
}

type decisionKind int

const (
	kindProceed decisionKind = iota
	kindRetry
	kindSkip
)

// Proceed returns true if the session produced enough output to accept.
func (d Decision) Proceed() bool { return d.kind == kindProceed }

// ShouldRetry returns true if the harness should re-run the same iteration.
func (d Decision) ShouldRetry() bool { return d.kind == kindRetry }

// Skip returns true if the harness should give up on this iteration and
// move on without retrying further.
func (d Decision) Skip() bool { return d.kind == kindSkip }

func (d Decision) String() string {
	switch d.kind {
	case kindProceed:
		return "proceed"
	case kindRetry:
		return fmt.Sprintf("retry(attempt=%d)", d.Attempt)
	case kindSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Policy decides what to do with a sparse-output session: keep retrying up
// to MaxRetries times, then skip the iteration.
type Policy struct {
	MinOutputBytes uint64
	MaxRetries     int
}

// Evaluate inspects the output byte count produced on the current attempt
// and decides whether to proceed, retry, or give up. currentAttempt is
// 0-indexed: the first attempt at an iteration is attempt 0.
func (p Policy) Evaluate(outputBytes uint64, currentAttempt int) Decision {
	if outputBytes >= p.MinOutputBytes {
		return Decision{kind: kindProceed}
	}
	if currentAttempt >= p.MaxRetries {
		return Decision{kind: kindSkip}
	}
	return Decision{kind: kindRetry, Attempt: currentAttempt + 1}
}
