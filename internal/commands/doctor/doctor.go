// Package doctor implements the health checks behind `pgchat doctor`.
package doctor

import "context"

// Status is the outcome of one check item.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckItem is one line of a check, e.g. "auth.token" or "room 3 cache".
type CheckItem struct {
	Label   string `json:"label"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Fixable bool   `json:"fixable,omitempty"`
}

func (i CheckItem) needsFix() bool {
	return i.Fixable && i.Status != StatusPass
}

// Result groups the items reported by one check.
type Result struct {
	Name  string      `json:"name"`
	Items []CheckItem `json:"items"`
}

type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// RunAll runs checks in order. Once ctx is done the remaining checks are
// reported as failed without running; the server check can take a full dial
// timeout.
func RunAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{
				Name:  check.Name(),
				Items: []CheckItem{{Label: "skipped", Status: StatusFail, Detail: err.Error()}},
			})
			continue
		}
		results = append(results, check.Run(ctx))
	}
	return results
}

// Tally counts item outcomes across results.
type Tally struct {
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Fixable int `json:"fixable"`
}

// Healthy reports whether no item failed. Warnings are allowed.
func (t Tally) Healthy() bool { return t.Failed == 0 }

func Summarize(results []Result) Tally {
	var t Tally
	for _, r := range results {
		for _, item := range r.Items {
			switch item.Status {
			case StatusPass:
				t.Passed++
			case StatusWarn:
				t.Warned++
			case StatusFail:
				t.Failed++
			}
			if item.needsFix() {
				t.Fixable++
			}
		}
	}
	return t
}
