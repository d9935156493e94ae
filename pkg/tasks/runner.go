// Package tasks runs post-meeting tasks once a bot has exited.
package tasks

import (
	"context"
	"log/slog"

	"github.com/vexa-ai/vexa/pkg/models"
)

// Task is one unit of post-meeting work. Implementations must tolerate being
// run more than once for the same meeting.
type Task interface {
	Name() string
	Run(ctx context.Context, meeting *models.Meeting) error
}

// MeetingLoader fetches a meeting by id.
type MeetingLoader interface {
	GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error)
}

// Runner executes every registered task for a meeting. A failing task is
// logged and does not abort the remaining tasks.
type Runner struct {
	meetings MeetingLoader
	tasks    []Task
}

// NewRunner creates a task runner with the given registration order.
func NewRunner(meetings MeetingLoader, tasks ...Task) *Runner {
	return &Runner{meetings: meetings, tasks: tasks}
}

// Register appends a task to the run order.
func (r *Runner) Register(task Task) {
	r.tasks = append(r.tasks, task)
}

// Run loads the meeting and executes every task in order.
func (r *Runner) Run(ctx context.Context, meetingID int64) error {
	meeting, err := r.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		slog.Error("Post-meeting tasks: failed to load meeting",
			"meeting_id", meetingID, "error", err)
		return err
	}

	for _, task := range r.tasks {
		if err := task.Run(ctx, meeting); err != nil {
			slog.Error("Post-meeting task failed",
				"task", task.Name(), "meeting_id", meetingID, "error", err)
			continue
		}
		slog.Info("Post-meeting task completed",
			"task", task.Name(), "meeting_id", meetingID)
	}
	return nil
}

// RunAsync executes Run on a fresh goroutine, detached from the caller's
// context. Exit callbacks must return quickly; task work happens here.
func (r *Runner) RunAsync(meetingID int64) {
	go func() {
		if err := r.Run(context.Background(), meetingID); err != nil {
			slog.Error("Post-meeting task run aborted", "meeting_id", meetingID, "error", err)
		}
	}()
}
