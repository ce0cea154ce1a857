package harness

// PassSummary is the outcome of one sync pass.
type PassSummary struct {
	Mode      string         `json:"mode"`
	Processed int            `json:"processed"`
	Recorded  map[string]int `json:"recorded"`
	Skipped   int            `json:"skipped"`
	Ignored   int            `json:"ignored"`
	Watermark string         `json:"watermark,omitempty"`
}

// ReplaySummary is the outcome of the replay.
type ReplaySummary struct {
	Processed int            `json:"processed"`
	Replayed  map[string]int `json:"replayed"`
	Skipped   int            `json:"skipped"`
	Warnings  int            `json:"warnings"`
	NotFound  int            `json:"not_found"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Passes holds one summary per sync pass, in order.
	Passes []PassSummary `json:"passes"`

	// Events counts stored events by short kind name.
	Events map[string]int64 `json:"events"`

	// TotalEvents is the number of stored events.
	TotalEvents int64 `json:"total_events"`

	// Replay summarises the replay into the target.
	Replay ReplaySummary `json:"replay"`

	// Trace holds the target's mutation calls, one rendered call per entry.
	Trace []string `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Events: make(map[string]int64),
		Replay: ReplaySummary{Replayed: make(map[string]int)},
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
