package plan

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
)

type stubModel struct {
	text string
	err  error
}

func (m *stubModel) Generate(ctx context.Context, req orchestrate.GenerateRequest) (*orchestrate.GenerateResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &orchestrate.GenerateResponse{Text: m.text}, nil
}

type stubModelProvider struct {
	models map[string]orchestrate.Model
}

func (p *stubModelProvider) Model(ctx context.Context, agentID string) (orchestrate.Model, error) {
	m, ok := p.models[agentID]
	if !ok {
		return nil, errors.New("no model for agent " + agentID)
	}
	return m, nil
}

type memMemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemMemoryStore() *memMemoryStore {
	return &memMemoryStore{entries: map[string]string{}}
}

func (s *memMemoryStore) Read(agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[agentID], nil
}

func (s *memMemoryStore) Write(agentID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = output
	return nil
}

func writeManifest(t *testing.T, m *Manifest) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan_manifest.json")
	require.NoError(t, SaveManifestFile(path, m))
	return path
}

func TestExecutor_Run_CompletesAllTasksInDependencyOrder(t *testing.T) {
	manifest := sampleManifest()
	path := writeManifest(t, manifest)

	provider := &stubModelProvider{models: map[string]orchestrate.Model{
		"code_agent": &stubModel{text: "done"},
	}}
	memory := newMemMemoryStore()

	exec := New(provider, memory, nil, nil, nil, orchestrate.Config{}, nil)
	result, err := exec.Run(context.Background(), path, Options{Mode: Continuous()})
	require.NoError(t, err)
	assert.False(t, result.Cancelled)

	reloaded, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Iterations[0].Tasks[0].Completed)
	assert.True(t, reloaded.Iterations[0].Tasks[1].Completed)
	assert.Equal(t, IterationCompleted, reloaded.Iterations[0].Status)

	mem, _ := memory.Read("code_agent")
	assert.Equal(t, "done", mem)
}

func TestExecutor_Run_SkipsTaskWithUnmetDependency(t *testing.T) {
	manifest := sampleManifest()
	// Remove T1 from the tasks slice so T2's dependency can never resolve.
	manifest.Iterations[0].Tasks = manifest.Iterations[0].Tasks[1:]
	path := writeManifest(t, manifest)

	provider := &stubModelProvider{models: map[string]orchestrate.Model{
		"code_agent": &stubModel{text: "done"},
	}}
	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)

	result, err := exec.Run(context.Background(), path, Options{Mode: Continuous()})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeDependencyNotMet, result.Outcomes[0].Kind)

	reloaded, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.False(t, reloaded.Iterations[0].Tasks[0].Completed)
}

func TestExecutor_Run_RecordsNoAgentAssigned(t *testing.T) {
	manifest := sampleManifest()
	manifest.Iterations[0].Tasks[0].AgentID = ""
	manifest.Iterations[0].Tasks = manifest.Iterations[0].Tasks[:1]
	path := writeManifest(t, manifest)

	exec := New(&stubModelProvider{}, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)
	result, err := exec.Run(context.Background(), path, Options{Mode: Continuous()})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeNoAgent, result.Outcomes[0].Kind)
}

func TestExecutor_Run_ResumeSkipsAlreadyCompletedTasks(t *testing.T) {
	manifest := sampleManifest()
	require.NoError(t, manifest.MarkTaskComplete("I1.T1"))
	path := writeManifest(t, manifest)

	calls := 0
	model := &countingModel{onCall: func() { calls++ }}
	provider := &stubModelProvider{models: map[string]orchestrate.Model{"code_agent": model}}

	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)
	_, err := exec.Run(context.Background(), path, Options{Resume: true, Mode: Continuous()})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "only the incomplete task should invoke the model")
}

func TestExecutor_Run_SkipsCompletedIterationWhenNotResuming(t *testing.T) {
	manifest := sampleManifest()
	require.NoError(t, manifest.MarkTaskComplete("I1.T1"))
	require.NoError(t, manifest.MarkTaskComplete("I1.T2"))
	manifest.Iterations[0].Status = IterationCompleted
	path := writeManifest(t, manifest)

	calls := 0
	model := &countingModel{onCall: func() { calls++ }}
	provider := &stubModelProvider{models: map[string]orchestrate.Model{"code_agent": model}}

	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)
	_, err := exec.Run(context.Background(), path, Options{Resume: false, Mode: Continuous()})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestExecutor_Run_BoundedModeCapsAttempts(t *testing.T) {
	manifest := sampleManifest()
	path := writeManifest(t, manifest)

	provider := &stubModelProvider{models: map[string]orchestrate.Model{
		"code_agent": &stubModel{text: "done"},
	}}
	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)

	result, err := exec.Run(context.Background(), path, Options{Mode: Bounded(1)})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	reloaded, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Iterations[0].Tasks[0].Completed)
	assert.False(t, reloaded.Iterations[0].Tasks[1].Completed)
}

func TestExecutor_Run_NonRecoverableErrorFailsIterationNotWholePlan(t *testing.T) {
	manifest := sampleManifest()
	path := writeManifest(t, manifest)

	provider := &stubModelProvider{models: map[string]orchestrate.Model{
		"code_agent": &stubModel{err: errors.New("permanent failure")},
	}}
	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)

	result, err := exec.Run(context.Background(), path, Options{Mode: Continuous()})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeFailed, result.Outcomes[0].Kind)

	reloaded, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.Equal(t, IterationFailed, reloaded.Iterations[0].Status)
	assert.False(t, reloaded.Iterations[0].Tasks[0].Completed)
}

func TestExecutor_Run_CancelledContextStopsBeforeNextTask(t *testing.T) {
	manifest := sampleManifest()
	path := writeManifest(t, manifest)

	provider := &stubModelProvider{models: map[string]orchestrate.Model{
		"code_agent": &stubModel{text: "done"},
	}}
	exec := New(provider, newMemMemoryStore(), nil, nil, nil, orchestrate.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := exec.Run(ctx, path, Options{Mode: Continuous()})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Empty(t, result.Outcomes)
}

type countingModel struct {
	onCall func()
}

func (m *countingModel) Generate(ctx context.Context, req orchestrate.GenerateRequest) (*orchestrate.GenerateResponse, error) {
	m.onCall()
	return &orchestrate.GenerateResponse{Text: "done"}, nil
}
