// Package taskflow tracks multi-step map execution per session: the task
// list state machine, the session stores it lives in, and the engine that
// turns batches of tool results into the next directive for the model.
package taskflow

import (
	"time"

	"github.com/google/uuid"
)

// ListStatus is the overall state of a task list.
type ListStatus string

const (
	StatusPending   ListStatus = "pending"
	StatusRunning   ListStatus = "running"
	StatusCompleted ListStatus = "completed"
	StatusFailed    ListStatus = "failed"
)

// StepStatus is the state of one task item.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// TaskItem is one step of a running map.
type TaskItem struct {
	Step        int        `json:"step"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tool        string     `json:"tool"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TaskList is the runtime state of one map instance. CurrentStep is 1-based;
// 0 means the list has not started. At most one item is in_progress and it
// is always the item at index CurrentStep-1.
type TaskList struct {
	ID          string     `json:"id"`
	MapID       string     `json:"mapId"`
	MapName     string     `json:"mapName"`
	Steps       []TaskItem `json:"steps"`
	CurrentStep int        `json:"currentStep"`
	TotalSteps  int        `json:"totalSteps"`
	Status      ListStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTaskList builds a pending list from a map definition. Steps are
// numbered from 1 in map order.
func NewTaskList(m *Map) *TaskList {
	now := time.Now().UTC()
	items := make([]TaskItem, len(m.Steps))
	for i, step := range m.Steps {
		items[i] = TaskItem{
			Step:        i + 1,
			Name:        step.label(),
			Description: step.Action,
			Tool:        step.Tool,
			Status:      StepPending,
		}
	}
	return &TaskList{
		ID:         uuid.NewString(),
		MapID:      m.ID,
		MapName:    m.Name,
		Steps:      items,
		TotalSteps: len(items),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Start transitions a pending list to running with step 1 in progress.
// Lists in any other state are left untouched.
func (l *TaskList) Start() {
	if l.Status != StatusPending || l.TotalSteps == 0 {
		return
	}
	now := time.Now().UTC()
	l.CurrentStep = 1
	l.Status = StatusRunning
	l.Steps[0].Status = StepInProgress
	l.Steps[0].StartedAt = &now
	l.UpdatedAt = now
}

// CompleteCurrent marks the in-progress step completed with summary and
// activates the next one. Completing the last step sets the list status to
// completed; CurrentStep stays at TotalSteps. No-op unless running.
func (l *TaskList) CompleteCurrent(summary string) {
	if l.Status != StatusRunning || l.CurrentStep < 1 {
		return
	}
	now := time.Now().UTC()
	item := &l.Steps[l.CurrentStep-1]
	item.Status = StepCompleted
	item.Result = summary
	item.CompletedAt = &now

	if l.CurrentStep >= l.TotalSteps {
		l.Status = StatusCompleted
	} else {
		l.CurrentStep++
		next := &l.Steps[l.CurrentStep-1]
		next.Status = StepInProgress
		next.StartedAt = &now
	}
	l.UpdatedAt = now
}

// FailCurrent marks the in-progress step failed and freezes the list. All
// other steps keep the status they had; failed is terminal.
func (l *TaskList) FailCurrent(errMsg string) {
	if l.Status != StatusRunning || l.CurrentStep < 1 {
		return
	}
	now := time.Now().UTC()
	item := &l.Steps[l.CurrentStep-1]
	item.Status = StepFailed
	item.Error = errMsg
	item.CompletedAt = &now
	l.Status = StatusFailed
	l.UpdatedAt = now
}

// CompletionPercent reports completed steps over total as a whole percent.
func (l *TaskList) CompletionPercent() int {
	if l.TotalSteps == 0 {
		return 0
	}
	completed := 0
	for _, item := range l.Steps {
		if item.Status == StepCompleted {
			completed++
		}
	}
	return (completed*100 + l.TotalSteps/2) / l.TotalSteps
}

// Current returns the in-progress item, or nil when none is active.
func (l *TaskList) Current() *TaskItem {
	if l.Status != StatusRunning || l.CurrentStep < 1 || l.CurrentStep > l.TotalSteps {
		return nil
	}
	return &l.Steps[l.CurrentStep-1]
}

// Clone deep-copies the list so snapshots handed to responses or watchers
// cannot observe later mutations.
func (l *TaskList) Clone() *TaskList {
	if l == nil {
		return nil
	}
	out := *l
	out.Steps = make([]TaskItem, len(l.Steps))
	copy(out.Steps, l.Steps)
	return &out
}
