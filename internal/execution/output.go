package execution

import (
	"encoding/json"
	"fmt"
	"strings"

	"clowdy/pkg/models"
)

// classifyOutput applies the stdout contract: on a zero exit, the last
// non-empty stdout line must be the function's return value as JSON.
// Everything else is an error carrying the most useful text the container
// produced plus a stderr tail for debugging.
func classifyOutput(exitCode int64, stdout, stderr []byte) (string, any) {
	last := lastNonEmptyLine(stdout)

	if exitCode == 0 && last != "" {
		var value any
		if err := json.Unmarshal([]byte(last), &value); err == nil {
			return models.InvocationSuccess, value
		}
	}

	return models.InvocationError, map[string]any{
		"error": capturedText(exitCode, last, stderr),
		"logs":  logsTail(stderr),
	}
}

// capturedText picks the failure message, most structured first: the
// bootstrap's stderr error report for non-zero exits, then the stdout
// line that failed to parse, then the bare exit code.
func capturedText(exitCode int64, lastStdout string, stderr []byte) string {
	if exitCode != 0 {
		if msg := bootstrapError(stderr); msg != "" {
			return msg
		}
	}
	if lastStdout != "" {
		return lastStdout
	}
	return fmt.Sprintf("exited with code %d", exitCode)
}

// bootstrapError extracts the "error" field from the runtime bootstrap's
// final stderr line. The bootstrap reports crashes as a single JSON object
// on stderr before exiting non-zero; anything unparseable is treated as
// ordinary log noise.
func bootstrapError(stderr []byte) string {
	line := lastNonEmptyLine(stderr)
	if line == "" {
		return ""
	}
	var report struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &report); err != nil {
		return ""
	}
	return report.Error
}

// lastNonEmptyLine scans the stream backwards for the last line with
// visible content.
func lastNonEmptyLine(stream []byte) string {
	lines := strings.Split(string(stream), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// logsTail returns up to the final logsTailBytes of stderr.
func logsTail(stderr []byte) string {
	if len(stderr) > logsTailBytes {
		stderr = stderr[len(stderr)-logsTailBytes:]
	}
	return string(stderr)
}

// engineUnavailableMessage is recorded when the container engine itself
// failed, as opposed to the function it was running.
const engineUnavailableMessage = "engine unavailable"

func engineUnavailable() map[string]any {
	return map[string]any{"error": engineUnavailableMessage}
}
