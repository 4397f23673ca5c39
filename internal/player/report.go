package player

import "github.com/roach88/playback/internal/diff"

// Report is the outcome of a run.
type Report struct {
	Entries []diff.Entry `json:"entries"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Pending int          `json:"pending"`
	Skipped int          `json:"skipped"`
}

func (r *Report) add(status diff.Status, entry *diff.Entry) {
	switch status {
	case diff.StatusPass:
		r.Passed++
	case diff.StatusFail:
		r.Failed++
	case diff.StatusPending:
		r.Pending++
	case diff.StatusSkipped:
		r.Skipped++
	}
	if entry != nil {
		r.Entries = append(r.Entries, *entry)
	}
}

// Merge appends other's entries and counts to r.
func (r *Report) Merge(other Report) {
	r.Entries = append(r.Entries, other.Entries...)
	r.Passed += other.Passed
	r.Failed += other.Failed
	r.Pending += other.Pending
	r.Skipped += other.Skipped
}

// Total is the number of recordings the run looked at, skipped included.
func (r Report) Total() int {
	return r.Passed + r.Failed + r.Pending + r.Skipped
}
