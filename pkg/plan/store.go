package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/swarmgate/pkg/workspace"
)

const manifestFileName = "plan_manifest.json"
const planFileName = "plan.json"

// Store loads and persists Plan and Manifest trees under a workspace's plan
// directory structure (W/plan/<stage>/<folder>/plan.json and
// W/plan/<stage>/<folder>/plan/plan_manifest.json).
type Store struct {
	ws *workspace.Workspace
}

// NewStore builds a Store anchored at ws.
func NewStore(ws *workspace.Workspace) *Store {
	return &Store{ws: ws}
}

func (s *Store) planDir(stage workspace.Stage, folder string) string {
	return filepath.Join(s.ws.StageDir(stage), folder)
}

// PlanPath returns the on-disk path to a plan's plan.json.
func (s *Store) PlanPath(stage workspace.Stage, folder string) string {
	return filepath.Join(s.planDir(stage, folder), planFileName)
}

// ManifestPath returns the on-disk path to a plan's plan_manifest.json.
func (s *Store) ManifestPath(stage workspace.Stage, folder string) string {
	return filepath.Join(s.planDir(stage, folder), "plan", manifestFileName)
}

// LoadPlan reads and tolerantly parses plan.json.
func (s *Store) LoadPlan(stage workspace.Stage, folder string) (*Plan, error) {
	raw, err := os.ReadFile(s.PlanPath(stage, folder))
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan.json: %w", err)
	}
	return &p, nil
}

// SavePlan writes plan.json atomically: write to a temp file in the same
// directory, then rename over the target. A crash mid-write never leaves a
// partially-written plan.json in place.
func (s *Store) SavePlan(p *Plan) error {
	dir := s.planDir(p.Stage, p.FolderName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(dir, planFileName), p)
}

// LoadManifest reads and tolerantly parses plan_manifest.json.
func (s *Store) LoadManifest(stage workspace.Stage, folder string) (*Manifest, error) {
	return LoadManifestFile(s.ManifestPath(stage, folder))
}

// SaveManifest writes plan_manifest.json atomically.
func (s *Store) SaveManifest(stage workspace.Stage, folder string, m *Manifest) error {
	return SaveManifestFile(s.ManifestPath(stage, folder), m)
}

// LoadManifestFile reads a manifest from an explicit path, independent of
// workspace stage/folder layout (used by the Plan Executor, which is handed
// a manifest path directly).
func LoadManifestFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse plan_manifest.json: %w", err)
	}
	return &m, nil
}

// SaveManifestFile writes a manifest to an explicit path atomically: a
// temp file is written in the same directory as path and renamed into
// place, so a crash between steps leaves the prior durable manifest intact.
func SaveManifestFile(path string, m *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(path, m)
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
