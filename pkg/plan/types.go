// Package plan implements the Plan/Plan manifest data model and the Plan
// Executor: the component that walks a manifest's iterations and tasks,
// invoking the orchestration loop for each and persisting completion
// durably as it goes.
package plan

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/swarmgate/pkg/workspace"
)

// Status is a Plan's lifecycle stage-independent state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Plan is the persisted metadata record for one requirement.
type Plan struct {
	RequirementID workspace.RequirementID `json:"requirement_id"`
	ProjectName   string                  `json:"project_name"`
	FolderName    string                  `json:"folder_name"`
	Stage         workspace.Stage         `json:"stage"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Status        Status                  `json:"status"`
}

// IterationStatus is the aggregate state of an iteration's tasks.
type IterationStatus string

const (
	IterationNotStarted IterationStatus = "NotStarted"
	IterationInProgress IterationStatus = "InProgress"
	IterationCompleted  IterationStatus = "Completed"
	IterationFailed     IterationStatus = "Failed"
	IterationPaused     IterationStatus = "Paused"
	IterationBlocked    IterationStatus = "Blocked"
)

// Task is one unit of work within an iteration. Completed is the single
// durable truth of task progress; Dependencies refer only to task ids
// within the same manifest.
type Task struct {
	ID           string   `json:"id"` // "I<k>.T<j>"
	Title        string   `json:"title"`
	AgentID      string   `json:"agent_id,omitempty"`
	Completed    bool     `json:"completed"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Iteration is an ordered group of tasks sharing a goal.
type Iteration struct {
	ID     string          `json:"id"` // stable string, e.g. "I1"
	Name   string          `json:"name"`
	Goal   string          `json:"goal,omitempty"`
	Status IterationStatus `json:"status"`
	Tasks  []Task          `json:"tasks"`
}

// Manifest is the full tree of iterations and tasks for one plan.
type Manifest struct {
	RequirementID workspace.RequirementID `json:"requirement_id"`
	ProjectName   string                  `json:"project_name"`
	Iterations    []Iteration             `json:"iterations"`
}

// ErrTaskNotFound indicates a task id absent from the manifest.
type ErrTaskNotFound struct{ TaskID string }

func (e *ErrTaskNotFound) Error() string { return fmt.Sprintf("task not found: %s", e.TaskID) }

// ErrIterationNotFound indicates an iteration id absent from the manifest.
type ErrIterationNotFound struct{ IterationID string }

func (e *ErrIterationNotFound) Error() string {
	return fmt.Sprintf("iteration not found: %s", e.IterationID)
}

// FindTask locates a task by id across every iteration, returning the
// iteration index and task index alongside it.
func (m *Manifest) FindTask(taskID string) (iterIdx, taskIdx int, ok bool) {
	for i := range m.Iterations {
		for j := range m.Iterations[i].Tasks {
			if m.Iterations[i].Tasks[j].ID == taskID {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// DependenciesSatisfied reports whether every dependency of task resolves
// within the manifest and is completed.
func (m *Manifest) DependenciesSatisfied(task Task) (bool, error) {
	for _, depID := range task.Dependencies {
		_, j, ok := m.FindTask(depID)
		if !ok {
			return false, &ErrTaskNotFound{TaskID: depID}
		}
		i, _, _ := m.FindTask(depID)
		if !m.Iterations[i].Tasks[j].Completed {
			return false, nil
		}
	}
	return true, nil
}

// TotalTasks counts every task across every iteration.
func (m *Manifest) TotalTasks() int {
	n := 0
	for _, it := range m.Iterations {
		n += len(it.Tasks)
	}
	return n
}

// CompletedTasks counts every task marked completed across every iteration.
func (m *Manifest) CompletedTasks() int {
	n := 0
	for _, it := range m.Iterations {
		for _, t := range it.Tasks {
			if t.Completed {
				n++
			}
		}
	}
	return n
}

// ProgressPercent returns completed/total * 100, floored, or 0 when the
// manifest has no tasks.
func (m *Manifest) ProgressPercent() int {
	total := m.TotalTasks()
	if total == 0 {
		return 0
	}
	return (m.CompletedTasks() * 100) / total
}

// refreshIterationStatus recomputes Iterations[idx].Status from its tasks'
// completion state: Completed if every task is completed, NotStarted if
// none are, InProgress otherwise. Failed/Paused/Blocked are set explicitly
// by the executor and never overwritten here.
func (m *Manifest) refreshIterationStatus(idx int) {
	it := &m.Iterations[idx]
	if it.Status == IterationFailed || it.Status == IterationPaused || it.Status == IterationBlocked {
		return
	}
	if len(it.Tasks) == 0 {
		return
	}
	completed := 0
	for _, t := range it.Tasks {
		if t.Completed {
			completed++
		}
	}
	switch {
	case completed == len(it.Tasks):
		it.Status = IterationCompleted
	case completed == 0:
		it.Status = IterationNotStarted
	default:
		it.Status = IterationInProgress
	}
}

// MarkTaskComplete sets a task's Completed flag and refreshes its
// iteration's aggregate status. The caller is responsible for persisting
// the manifest immediately after; see SaveManifestFile and Store.SaveManifest.
func (m *Manifest) MarkTaskComplete(taskID string) error {
	i, j, ok := m.FindTask(taskID)
	if !ok {
		return &ErrTaskNotFound{TaskID: taskID}
	}
	m.Iterations[i].Tasks[j].Completed = true
	m.refreshIterationStatus(i)
	return nil
}
