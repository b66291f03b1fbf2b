package supervisor

import "time"

// ActivityState records the liveness signals of one supervised process.
// The zero value means no output has been seen yet.
type ActivityState struct {
	LastOutput       time.Time `json:"last_output_time"`
	TotalOutputLines int       `json:"total_output_lines"`
	StallWarnings    int       `json:"stall_warnings"`
	Stalled          bool      `json:"is_stalled"`
}

// UpdateOutput records one line of output from either stream.
func (a *ActivityState) UpdateOutput(now time.Time) {
	a.LastOutput = now
	a.TotalOutputLines++
	a.Stalled = false
}

// MarkProgress resets the output timer on secondary evidence of work
// (files appearing) without counting a line.
func (a *ActivityState) MarkProgress(now time.Time) {
	a.LastOutput = now
	a.Stalled = false
}

// MarkStalled flags a stall and returns the updated warning count.
func (a *ActivityState) MarkStalled() int {
	a.StallWarnings++
	a.Stalled = true
	return a.StallWarnings
}

// Idle reports how long the process has been silent. Before any output the
// process start time is the reference point.
func (a ActivityState) Idle(start, now time.Time) time.Duration {
	ref := a.LastOutput
	if ref.IsZero() {
		ref = start
	}
	return now.Sub(ref)
}

// SeenOutput reports whether any line was ever produced.
func (a ActivityState) SeenOutput() bool {
	return a.TotalOutputLines > 0
}
