package plan

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/swarmgate/pkg/codeblock"
	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

const (
	defaultMaxRetries    = 3
	executorBackoffMin   = 250 * time.Millisecond
	executorBackoffMax   = 1500 * time.Millisecond
)

// Mode selects how many incomplete tasks the Executor will attempt in one
// Run call.
type Mode struct {
	continuous bool
	limit      int
}

// Continuous runs until the manifest is fully complete, an unrecoverable
// error is hit, or the context is cancelled.
func Continuous() Mode { return Mode{continuous: true} }

// Bounded caps the number of incomplete tasks attempted in this run to n.
func Bounded(n int) Mode { return Mode{limit: n} }

func (m Mode) attemptAllowed(attempted int) bool {
	if m.continuous {
		return true
	}
	return attempted < m.limit
}

// ModelProvider obtains a model instance suitable for driving an agent's
// turns, typically backed by the model cache (component M).
type ModelProvider interface {
	Model(ctx context.Context, agentID string) (orchestrate.Model, error)
}

// MemoryStore is the plan-scoped read/write surface the executor uses to
// seed context from an agent's prior output and persist its latest one
// (component O). The executor is the memory store's sole writer.
type MemoryStore interface {
	Read(agentID string) (string, error)
	Write(agentID, output string) error
}

// CodeBlockRecorder persists the fenced code blocks found in an agent's
// output, tagged to that agent and assigned a session-dense index by the
// store itself.
type CodeBlockRecorder interface {
	StoreBlocks(agentID string, blocks []codeblock.Block) ([]codeblock.Block, error)
}

// Options configures one Executor.Run call.
type Options struct {
	IterationFilter map[string]struct{} // nil means no filter
	TaskFilter      map[string]struct{} // nil means no filter
	Resume          bool
	Mode            Mode
}

// TaskOutcomeKind classifies a non-fatal per-task event recorded during Run.
type TaskOutcomeKind string

const (
	OutcomeCompleted        TaskOutcomeKind = "Completed"
	OutcomeDependencyNotMet TaskOutcomeKind = "DependencyNotMet"
	OutcomeNoAgent          TaskOutcomeKind = "NoAgentAssigned"
	OutcomeFailed           TaskOutcomeKind = "Failed"
)

// TaskOutcome records what happened to one task during a Run.
type TaskOutcome struct {
	TaskID string
	Kind   TaskOutcomeKind
	Err    error
}

// RunResult summarizes one Executor.Run call.
type RunResult struct {
	Manifest   *Manifest
	Outcomes   []TaskOutcome
	Cancelled  bool
}

// ProgressFunc receives the floor(completed/total*100) progress percentage
// after every task completion.
type ProgressFunc func(percent int)

// Executor walks a manifest's iterations and tasks in declared order,
// invoking the orchestration loop for each eligible task and persisting
// completion durably before returning success for that task.
type Executor struct {
	models     ModelProvider
	memory     MemoryStore
	codeBlocks CodeBlockRecorder
	dispatcher orchestrate.Dispatcher
	policy     orchestrate.PolicyChecker
	tools      []*tool.Tool
	loopConfig orchestrate.Config
	maxRetries int
	onProgress ProgressFunc
}

// New builds an Executor. onProgress may be nil.
func New(models ModelProvider, memory MemoryStore, dispatcher orchestrate.Dispatcher, policy orchestrate.PolicyChecker, tools []*tool.Tool, loopConfig orchestrate.Config, onProgress ProgressFunc) *Executor {
	return &Executor{
		models:     models,
		memory:     memory,
		dispatcher: dispatcher,
		policy:     policy,
		tools:      tools,
		loopConfig: loopConfig,
		maxRetries: defaultMaxRetries,
		onProgress: onProgress,
	}
}

// WithCodeBlocks attaches a code-block store; every task's output is then
// scanned for fenced code blocks and persisted under that agent's id before
// Run returns. Returns e for chaining. A nil recorder (the default) skips
// extraction entirely.
func (e *Executor) WithCodeBlocks(recorder CodeBlockRecorder) *Executor {
	e.codeBlocks = recorder
	return e
}

// Run executes manifestPath's manifest in place per opts, writing the
// manifest to disk after every task completion, and returns the final
// in-memory manifest state.
func (e *Executor) Run(ctx context.Context, manifestPath string, opts Options) (*RunResult, error) {
	manifest, err := LoadManifestFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	result := &RunResult{Manifest: manifest}
	attempted := 0

	for _, iterIdx := range sortedIterationIndices(manifest) {
		iteration := &manifest.Iterations[iterIdx]

		if opts.IterationFilter != nil {
			if _, ok := opts.IterationFilter[iteration.ID]; !ok {
				continue
			}
		}
		if !opts.Resume && iteration.Status == IterationCompleted {
			continue
		}

		for taskIdx := range iteration.Tasks {
			if ctx.Err() != nil {
				result.Cancelled = true
				return result, nil
			}

			task := &iteration.Tasks[taskIdx]

			if opts.TaskFilter != nil {
				if _, ok := opts.TaskFilter[task.ID]; !ok {
					continue
				}
			}
			if task.Completed {
				continue
			}
			if !opts.Mode.attemptAllowed(attempted) {
				return result, nil
			}

			satisfied, depErr := manifest.DependenciesSatisfied(*task)
			if depErr != nil || !satisfied {
				result.Outcomes = append(result.Outcomes, TaskOutcome{TaskID: task.ID, Kind: OutcomeDependencyNotMet, Err: depErr})
				continue
			}

			if task.AgentID == "" {
				result.Outcomes = append(result.Outcomes, TaskOutcome{TaskID: task.ID, Kind: OutcomeNoAgent})
				continue
			}

			attempted++

			outcome, runErr := e.runTask(ctx, manifestPath, manifest, task)
			result.Outcomes = append(result.Outcomes, outcome)
			if runErr != nil {
				return result, runErr
			}
			if outcome.Kind == OutcomeFailed {
				iteration.Status = IterationFailed
				if err := SaveManifestFile(manifestPath, manifest); err != nil {
					return result, err
				}
				break // abort this iteration, not the whole plan
			}

			if e.onProgress != nil {
				e.onProgress(manifest.ProgressPercent())
			}
		}
	}

	return result, nil
}

// runTask invokes the orchestration loop for one task, retrying recoverable
// errors with exponential backoff up to maxRetries, and persists the
// manifest atomically immediately after a successful completion.
func (e *Executor) runTask(ctx context.Context, manifestPath string, manifest *Manifest, task *Task) (TaskOutcome, error) {
	model, err := e.models.Model(ctx, task.AgentID)
	if err != nil {
		return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: err}, nil
	}

	history, err := e.seedHistory(task.AgentID)
	if err != nil {
		return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: err}, nil
	}

	loop := orchestrate.New(model, e.dispatcher, e.policy, e.tools, e.loopConfig, nil)

	var loopResult *orchestrate.Result
	for attempt := 0; ; attempt++ {
		loopResult, err = loop.Run(ctx, history, task.Title)
		if err == nil {
			break
		}

		var recoverable *orchestrate.RecoverableError
		if !errors.As(err, &recoverable) || attempt >= e.maxRetries {
			return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: err}, nil
		}

		if sleepErr := sleepWithJitter(ctx, attempt); sleepErr != nil {
			return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: sleepErr}, nil
		}
	}

	if loopResult.StopReason == orchestrate.StopCancelled {
		return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: context.Canceled}, nil
	}

	if err := manifest.MarkTaskComplete(task.ID); err != nil {
		return TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, Err: err}, err
	}

	// A crash between this write and the in-memory mutation above would
	// simply be retried: completed stays false on disk until this returns.
	if err := SaveManifestFile(manifestPath, manifest); err != nil {
		return TaskOutcome{}, err
	}

	if err := e.memory.Write(task.AgentID, loopResult.Text); err != nil {
		return TaskOutcome{}, fmt.Errorf("write memory for %s: %w", task.AgentID, err)
	}

	if e.codeBlocks != nil {
		if blocks := codeblock.ExtractBlocks(loopResult.Text); len(blocks) > 0 {
			if _, err := e.codeBlocks.StoreBlocks(task.AgentID, blocks); err != nil {
				return TaskOutcome{}, fmt.Errorf("store code blocks for %s: %w", task.AgentID, err)
			}
		}
	}

	return TaskOutcome{TaskID: task.ID, Kind: OutcomeCompleted}, nil
}

func (e *Executor) seedHistory(agentID string) ([]orchestrate.Message, error) {
	prior, err := e.memory.Read(agentID)
	if err != nil {
		return nil, fmt.Errorf("read memory for %s: %w", agentID, err)
	}
	if prior == "" {
		return nil, nil
	}
	return []orchestrate.Message{
		{Role: orchestrate.RoleSystem, Content: "Prior output from this agent on this plan:\n" + prior},
	}, nil
}

func sleepWithJitter(ctx context.Context, attempt int) error {
	backoff := executorBackoffMin + time.Duration(rand.Int64N(int64(executorBackoffMax-executorBackoffMin)))
	backoff *= time.Duration(1 << attempt)
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sortedIterationIndices returns manifest.Iterations' indices ordered by the
// numeric suffix of each iteration's id (e.g. "I1" < "I2" < "I10"), falling
// back to lexicographic order for ids that don't fit the I<k> pattern.
func sortedIterationIndices(m *Manifest) []int {
	idxs := make([]int, len(m.Iterations))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		na, oka := iterationNumber(m.Iterations[idxs[a]].ID)
		nb, okb := iterationNumber(m.Iterations[idxs[b]].ID)
		if oka && okb {
			return na < nb
		}
		return m.Iterations[idxs[a]].ID < m.Iterations[idxs[b]].ID
	})
	return idxs
}

func iterationNumber(id string) (int, bool) {
	trimmed := strings.TrimPrefix(id, "I")
	if trimmed == id {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
