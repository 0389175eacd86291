package doctor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheck struct {
	name  string
	items []CheckItem
	ran   bool
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(context.Context) Result {
	c.ran = true
	return Result{Name: c.name, Items: c.items}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Name: "Config", Items: []CheckItem{{Label: "file", Status: StatusPass}}},
		{Name: "Cache", Items: []CheckItem{
			{Label: "room 4", Status: StatusWarn, Fixable: true},
			{Label: "room 5", Status: StatusPass, Fixable: true},
		}},
		{Name: "Auth", Items: []CheckItem{{Label: "token", Status: StatusFail}}},
	}

	got := Summarize(results)
	assert.Equal(t, Tally{Passed: 2, Warned: 1, Failed: 1, Fixable: 1}, got)
	assert.False(t, got.Healthy())
	assert.True(t, Summarize(results[:2]).Healthy(), "warnings are healthy")
}

func TestRunAll_StopsAfterCancel(t *testing.T) {
	first := &stubCheck{name: "Config", items: []CheckItem{{Label: "file", Status: StatusPass}}}
	second := &stubCheck{name: "Server"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := RunAll(ctx, []Check{first, second})
	require.Len(t, results, 2)
	assert.False(t, first.ran)
	assert.False(t, second.ran)
	assert.Equal(t, "Server", results[1].Name)
	assert.Equal(t, StatusFail, results[1].Items[0].Status)

	results = RunAll(context.Background(), []Check{first})
	assert.True(t, first.ran)
	assert.Equal(t, StatusPass, results[0].Items[0].Status)
}

func TestCheckItem_JSONStatus(t *testing.T) {
	data, err := json.Marshal(CheckItem{Label: "room 4", Status: StatusWarn, Fixable: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"room 4","status":"warn","fixable":true}`, string(data))
}
