package phase

import (
	"encoding/json"
	"strings"
)

// Envelope is one NDJSON record of the agent's stream-json output. Only the
// fields the runner inspects are decoded.
type Envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// result fields
	IsError      *bool    `json:"is_error,omitempty"`
	Result       string   `json:"result,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`

	// error records carry either a string or {"message": ...}
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// StreamSummary is what the runner learns from an agent's stdout.
type StreamSummary struct {
	// ResultSubtype is the subtype of the last result record, empty when the
	// stream ended without one.
	ResultSubtype string
	// SawSuccess is set once any result record reports success. Trailing
	// result records do not clear it.
	SawSuccess bool
	// LastError is the most recent non-benign structured error.
	LastError string
	CostUSD   float64
	Turns     int
	Records   int
}

// Succeeded reports whether the stream contained a success result record.
func (s StreamSummary) Succeeded() bool {
	return s.SawSuccess
}

// ParseStream scans NDJSON stdout. Lines that are not JSON objects are
// ignored. Errors containing any of the benign substrings are dropped.
func ParseStream(stdout string, benign []string) StreamSummary {
	var sum StreamSummary
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			continue
		}
		sum.Records++

		var msg string
		switch env.Type {
		case "result":
			sum.ResultSubtype = env.Subtype
			if env.TotalCostUSD > 0 {
				sum.CostUSD = env.TotalCostUSD
			}
			if env.NumTurns > 0 {
				sum.Turns = env.NumTurns
			}
			if env.Subtype == "success" && (env.IsError == nil || !*env.IsError) {
				sum.SawSuccess = true
			} else {
				msg = resultError(&env)
			}
		case "error":
			msg = errorMessage(&env)
		default:
			continue
		}
		if msg != "" && !isBenign(msg, benign) {
			sum.LastError = msg
		}
	}
	return sum
}

func resultError(env *Envelope) string {
	switch {
	case len(env.Errors) > 0:
		return strings.Join(env.Errors, "; ")
	case env.Result != "":
		return env.Result
	case env.Subtype != "":
		return env.Subtype
	}
	return "agent reported an error"
}

func errorMessage(env *Envelope) string {
	if len(env.Error) > 0 {
		var s string
		if err := json.Unmarshal(env.Error, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if env.Message != "" {
		return env.Message
	}
	return "agent reported an error"
}

func isBenign(msg string, benign []string) bool {
	lower := strings.ToLower(msg)
	for _, b := range benign {
		if b != "" && strings.Contains(lower, strings.ToLower(b)) {
			return true
		}
	}
	return false
}
