package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/annohist/internal/collection/memory"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, call := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, call)
		}
	}

	return buf.String()
}

// AssertionContext carries what assertions need beyond the Result.
type AssertionContext struct {
	// Calls is the structured mutation log of the target.
	Calls []memory.Call
	// Watermarks holds the store watermark after each sync pass.
	Watermarks []time.Time
}

// assertEventCount checks the number of stored events of one kind, or of
// every kind when the assertion names none.
func assertEventCount(result *Result, assertion Assertion) error {
	got := result.TotalEvents
	what := "events"
	if assertion.Kind != "" {
		got = result.Events[assertion.Kind]
		what = assertion.Kind + " events"
	}

	if got != int64(assertion.Count) {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
		}
	}
	return nil
}

// assertCallContains checks that some call starts with the given prefix.
func assertCallContains(trace []string, assertion Assertion) error {
	if indexOfCall(trace, assertion.Call, 0) >= 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallContains,
		Expected: fmt.Sprintf("call %s", assertion.Call),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCallCount checks that op was called exactly the specified number
// of times.
func assertCallCount(calls []memory.Call, trace []string, assertion Assertion) error {
	count := 0
	for _, call := range calls {
		if call.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d calls of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCallOrder checks that calls appear in the specified order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertCallOrder(trace []string, assertion Assertion) error {
	from := 0
	for i, prefix := range assertion.Calls {
		pos := indexOfCall(trace, prefix, from)
		if pos >= 0 {
			from = pos + 1
			continue
		}
		actual := fmt.Sprintf("missing call: %s", prefix)
		if i > 0 && indexOfCall(trace, prefix, 0) >= 0 {
			actual = fmt.Sprintf("%s does not follow %s", prefix, assertion.Calls[i-1])
		}
		return &AssertionError{
			Type:     AssertCallOrder,
			Expected: fmt.Sprintf("calls in order: %v", assertion.Calls),
			Actual:   actual,
			Trace:    trace,
		}
	}
	return nil
}

// assertWatermarkStable checks that passes after the first did not move
// the watermark.
func assertWatermarkStable(watermarks []time.Time) error {
	if len(watermarks) < 2 {
		return &AssertionError{
			Type:     AssertWatermarkStable,
			Expected: "at least two passes",
			Actual:   fmt.Sprintf("%d passes", len(watermarks)),
		}
	}
	first := watermarks[0]
	for i, wm := range watermarks[1:] {
		if !wm.Equal(first) {
			return &AssertionError{
				Type:     AssertWatermarkStable,
				Expected: fmt.Sprintf("watermark %s after every pass", first.UTC().Format(time.RFC3339Nano)),
				Actual:   fmt.Sprintf("pass %d moved it to %s", i+2, wm.UTC().Format(time.RFC3339Nano)),
			}
		}
	}
	return nil
}

// indexOfCall returns the position of the first call at or after from
// that starts with prefix, or -1.
func indexOfCall(trace []string, prefix string, from int) int {
	for i := from; i < len(trace); i++ {
		if strings.HasPrefix(trace[i], prefix) {
			return i
		}
	}
	return -1
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	if actx == nil {
		actx = &AssertionContext{}
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result, assertion)
		case AssertCallContains:
			err = assertCallContains(result.Trace, assertion)
		case AssertCallCount:
			err = assertCallCount(actx.Calls, result.Trace, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Trace, assertion)
		case AssertWatermarkStable:
			err = assertWatermarkStable(actx.Watermarks)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
