package phase

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/ccobench/internal/supervisor"
)

// Exit codes that mean the user interrupted the agent: SIGINT on unix and
// STATUS_CONTROL_C_EXIT on Windows (unsigned and signed).
var interruptExitCodes = map[int64]bool{
	130:         true,
	3221225786:  true,
	-1073741510: true,
}

// Outcome is the interpreted verdict on one supervised run.
type Outcome struct {
	Success   bool
	Failure   FailureKind
	Error     string
	Recovered bool
	Stream    StreamSummary
}

var stderrDiagnoses = []struct {
	needles   []string
	diagnosis string
}{
	{[]string{"permission denied", "eacces"}, "permission denied"},
	{[]string{"rate limit", "too many requests"}, "rate limited"},
	{[]string{"authentication", "unauthorized", "invalid api key"}, "authentication failed"},
	{[]string{"timed out", "timeout", "deadline exceeded"}, "timeout"},
	{[]string{"network", "connection refused", "connection reset", "no such host"}, "network error"},
}

// Interpret decides whether a supervised run succeeded. The terminal result
// record in the agent's stream overrides a non-zero exit code.
func Interpret(res *supervisor.Result, benign []string) Outcome {
	stream := ParseStream(res.Stdout, benign)
	out := Outcome{Stream: stream}

	if res.Interrupted {
		out.Failure = FailureInterrupted
		out.Error = "interrupted"
		return out
	}
	if res.ExitCode == nil {
		if !res.HasOutput() {
			out.Failure = FailureNotFound
			out.Error = "command not found"
			return out
		}
		idle := res.IdleFor
		if idle == 0 {
			idle = res.Duration
		}
		out.Failure = FailureTimeout
		out.Error = fmt.Sprintf("timeout: no output for %s", idle.Round(time.Second))
		return out
	}

	code := *res.ExitCode
	switch {
	case code == 0:
		out.Success = true
		return out
	case stream.Succeeded():
		out.Success = true
		out.Recovered = true
		return out
	case interruptExitCodes[int64(code)]:
		out.Failure = FailureInterrupted
		out.Error = fmt.Sprintf("interrupted by user (exit code %d)", code)
		return out
	}

	out.Failure = FailureToolError
	switch {
	case stream.LastError != "":
		out.Error = stream.LastError
	default:
		if diag, line := diagnoseStderr(res.Stderr); diag != "" {
			out.Error = fmt.Sprintf("%s: %s", diag, line)
		} else if line := lastLine(res.Stderr); line != "" {
			out.Error = fmt.Sprintf("exit code %d: %s", code, line)
		} else {
			out.Error = fmt.Sprintf("exit code %d", code)
		}
	}
	return out
}

// diagnoseStderr returns the first known failure cause found in stderr and
// the line it was found on.
func diagnoseStderr(stderr string) (string, string) {
	lines := strings.Split(stderr, "\n")
	for _, d := range stderrDiagnoses {
		for _, line := range lines {
			lower := strings.ToLower(line)
			for _, needle := range d.needles {
				if strings.Contains(lower, needle) {
					return d.diagnosis, strings.TrimSpace(line)
				}
			}
		}
	}
	return "", ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
