package engine

import (
	"github.com/qmuntal/stateless"

	"github.com/BaSui01/flowforge/types"
)

// Workflow instance triggers.
const (
	triggerStart    = "start"
	triggerPause    = "pause"
	triggerResume   = "resume"
	triggerCancel   = "cancel"
	triggerComplete = "complete"
	triggerFail     = "fail"
)

// newInstanceMachine builds the workflow-instance state machine seeded with
// the current status. The machine is the single definition of legal
// transitions; persistence still goes through status-guarded UPDATEs.
func newInstanceMachine(current types.WorkflowStatus) *stateless.StateMachine {
	m := stateless.NewStateMachine(current)

	m.Configure(types.WorkflowPending).
		Permit(triggerStart, types.WorkflowRunning).
		Permit(triggerCancel, types.WorkflowCancelled)

	m.Configure(types.WorkflowRunning).
		Permit(triggerPause, types.WorkflowPaused).
		Permit(triggerCancel, types.WorkflowCancelled).
		Permit(triggerComplete, types.WorkflowCompleted).
		Permit(triggerFail, types.WorkflowFailed)

	m.Configure(types.WorkflowPaused).
		Permit(triggerResume, types.WorkflowRunning).
		Permit(triggerCancel, types.WorkflowCancelled)

	return m
}

// canFire reports whether the trigger is legal from the given status.
func canFire(current types.WorkflowStatus, trigger string) bool {
	ok, err := newInstanceMachine(current).CanFire(trigger)
	return err == nil && ok
}
