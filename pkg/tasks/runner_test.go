package tasks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

type fakeMeetings struct {
	meeting *models.Meeting
}

func (f *fakeMeetings) GetMeeting(_ context.Context, _ int64) (*models.Meeting, error) {
	if f.meeting == nil {
		return nil, services.ErrNotFound
	}
	return f.meeting, nil
}

type recordingTask struct {
	name string
	err  error
	runs []int64
}

func (t *recordingTask) Name() string { return t.name }

func (t *recordingTask) Run(_ context.Context, meeting *models.Meeting) error {
	t.runs = append(t.runs, meeting.ID)
	return t.err
}

func TestRunnerExecutesTasksInOrder(t *testing.T) {
	first := &recordingTask{name: "first"}
	second := &recordingTask{name: "second"}
	runner := NewRunner(&fakeMeetings{meeting: &models.Meeting{ID: 42}}, first, second)

	require.NoError(t, runner.Run(context.Background(), 42))
	assert.Equal(t, []int64{42}, first.runs)
	assert.Equal(t, []int64{42}, second.runs)
}

func TestRunnerContinuesAfterTaskFailure(t *testing.T) {
	failing := &recordingTask{name: "failing", err: fmt.Errorf("boom")}
	following := &recordingTask{name: "following"}
	runner := NewRunner(&fakeMeetings{meeting: &models.Meeting{ID: 42}}, failing, following)

	require.NoError(t, runner.Run(context.Background(), 42))
	assert.Len(t, failing.runs, 1)
	assert.Len(t, following.runs, 1, "a failing task must not abort the sequence")
}

func TestRunnerUnknownMeeting(t *testing.T) {
	task := &recordingTask{name: "task"}
	runner := NewRunner(&fakeMeetings{}, task)

	err := runner.Run(context.Background(), 99)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Empty(t, task.runs)
}

func TestRunnerRegister(t *testing.T) {
	runner := NewRunner(&fakeMeetings{meeting: &models.Meeting{ID: 1}})
	task := &recordingTask{name: "late"}
	runner.Register(task)

	require.NoError(t, runner.Run(context.Background(), 1))
	assert.Len(t, task.runs, 1)
}
