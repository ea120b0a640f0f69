package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, &Event{Type: WorkflowCreated, Subject: "wf"}))
	require.NoError(t, r.Publish(ctx, &Event{Type: WorkflowCompleted, Subject: "wf"}))

	assert.Equal(t, []string{WorkflowCreated, WorkflowCompleted}, r.Types())
	evs := r.Events()
	require.Len(t, evs, 2)
	evs[0].Subject = "changed"
	assert.Equal(t, "wf", r.Events()[0].Subject)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), &Event{Type: AgentStatus}))
}
