package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/flowforge/types"
)

func TestCanFire(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    types.WorkflowStatus
		trigger string
		want    bool
	}{
		{types.WorkflowPending, triggerStart, true},
		{types.WorkflowPending, triggerPause, false},
		{types.WorkflowPending, triggerCancel, true},
		{types.WorkflowRunning, triggerPause, true},
		{types.WorkflowRunning, triggerResume, false},
		{types.WorkflowRunning, triggerComplete, true},
		{types.WorkflowRunning, triggerFail, true},
		{types.WorkflowRunning, triggerCancel, true},
		{types.WorkflowPaused, triggerResume, true},
		{types.WorkflowPaused, triggerPause, false},
		{types.WorkflowPaused, triggerCancel, true},
		{types.WorkflowCompleted, triggerCancel, false},
		{types.WorkflowCancelled, triggerResume, false},
		{types.WorkflowFailed, triggerStart, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canFire(tc.from, tc.trigger),
			"from %s trigger %s", tc.from, tc.trigger)
	}
}
