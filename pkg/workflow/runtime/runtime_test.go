package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStateFinality(t *testing.T) {
	assert.False(t, TaskStateToDo.IsFinal())
	assert.False(t, TaskStateReading.IsFinal())
	for _, s := range []TaskState{TaskStateCompleted, TaskStateWithdrawn, TaskStateSendBacked, TaskStateClosed} {
		assert.True(t, s.IsFinal(), s)
	}
}

func TestActivityStateIsOpen(t *testing.T) {
	assert.True(t, ActivityStateReady.IsOpen())
	assert.True(t, ActivityStateRunning.IsOpen())
	assert.True(t, ActivityStateSuspended.IsOpen())
	assert.False(t, ActivityStateCompleted.IsOpen())
	assert.False(t, ActivityStateWithdrawn.IsOpen())
}

func TestMultipleInstanceChild(t *testing.T) {
	host := int64(7)
	assert.True(t, ActivityInstance{MIHostActivityInstanceKey: &host}.IsMultipleInstanceChild())
	assert.False(t, ActivityInstance{}.IsMultipleInstanceChild())
}
