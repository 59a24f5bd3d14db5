package object

import (
	"bytes"
	"fmt"
)

func RenderStacktrace(rtErr *RuntimeError) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s: %s", rtErr.Kind, rtErr.Message)
	if c := rtErr.Confidence(); c < 1.0 {
		fmt.Fprintf(&buf, " (confidence %.4g)", c)
	}
	if rtErr.Payload.Context != "" {
		fmt.Fprintf(&buf, " [context %s]", rtErr.Payload.Context)
	}
	buf.WriteString(formatRuntimeErrorStack(rtErr))

	return buf.String()
}

// Helper: turn a RuntimeError's stack trace into a human-readable string.
func formatRuntimeErrorStack(rtErr *RuntimeError) string {
	var buf bytes.Buffer

	for _, frame := range rtErr.StackTrace {
		fmt.Fprintf(&buf, "\n  at %s", frame.Function)
	}

	if rtErr.Cause != nil {
		fmt.Fprintf(&buf, "\nCaused by: %s: %s", rtErr.Cause.Kind, rtErr.Cause.Message)
		buf.WriteString(formatRuntimeErrorStack(rtErr.Cause))
	}

	return buf.String()
}
