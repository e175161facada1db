// Package planner implements the Planner: deciding whether a request should
// be executed directly or decomposed into independent subtasks handed off to
// specialized agents, and performing that decomposition via a structured
// model call when delegation is warranted.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/swarmgate/pkg/config"
	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
)

// Subtask is one independently executable unit of a decomposed request.
type Subtask struct {
	AgentID            string
	TaskDescription    string
	ExpectedOutputType string
}

// DecompositionPlan is the Planner's decision for one request.
type DecompositionPlan struct {
	Subtasks       []Subtask
	ShouldDelegate bool
	Reasoning      string
}

const (
	minSubtasks = 2
	maxSubtasks = 5
)

var simpleIndicators = []string{
	"review this file",
	"explain this",
	"what does this do",
	"fix this bug",
	"add a comment",
	"rename this",
}

var complexIndicators = []string{
	"multiple",
	"several",
	"both",
	"all",
	"and also",
	"as well as",
	"implement",
	"create",
	"build",
	"design",
}

var fileLikeTokens = []string{".rs", ".ts", ".js", ".py", "file"}

// Planner decides delegate-vs-direct and, when delegating, decomposes a
// request into agent subtasks via a structured call to provider.
type Planner struct {
	provider orchestrate.Model
	catalog  *config.AgentCatalog
}

// New builds a Planner. catalog is consulted both to build the decomposition
// prompt and to validate returned agent ids.
func New(provider orchestrate.Model, catalog *config.AgentCatalog) *Planner {
	return &Planner{provider: provider, catalog: catalog}
}

// Decompose implements section 4.J's three-step algorithm: a heuristic gate,
// a direct-execution short circuit, and an LLM-driven decomposition.
func (p *Planner) Decompose(ctx context.Context, request string) (*DecompositionPlan, error) {
	if !shouldDelegate(request) {
		return &DecompositionPlan{
			Subtasks:       nil,
			ShouldDelegate: false,
			Reasoning:      "Request is simple enough to execute directly without delegation",
		}, nil
	}

	subtasks, err := p.generateSubtasks(ctx, request)
	if err != nil {
		return nil, err
	}

	return &DecompositionPlan{
		Subtasks:       subtasks,
		ShouldDelegate: true,
		Reasoning:      fmt.Sprintf("Decomposed into %d independent subtasks for parallel execution", len(subtasks)),
	}, nil
}

// shouldDelegate implements the literal complexity-score heuristic: a
// hit-list of simple phrases short-circuits to false for short requests;
// otherwise a complexity score combining complex-indicator word counts,
// request length, and file-like token mentions decides.
func shouldDelegate(request string) bool {
	lower := strings.ToLower(request)

	for _, indicator := range simpleIndicators {
		if strings.Contains(lower, indicator) && len(lower) < 200 {
			return false
		}
	}

	score := 0
	for _, indicator := range complexIndicators {
		if strings.Contains(lower, indicator) {
			score++
		}
	}
	if len(lower) > 300 {
		score += 2
	}
	for _, token := range fileLikeTokens {
		score += strings.Count(lower, token)
	}

	return score >= 2
}

type decompositionResponse struct {
	Subtasks []subtaskResponse `json:"subtasks"`
}

type subtaskResponse struct {
	AgentID            string `json:"agent_id"`
	TaskDescription    string `json:"task_description"`
	ExpectedOutputType string `json:"expected_output_type"`
}

// generateSubtasks prompts provider with the agent catalog and a strict JSON
// schema, parsing the response into validated subtasks. Subtasks naming an
// agent id absent from the catalog are silently dropped.
func (p *Planner) generateSubtasks(ctx context.Context, request string) ([]Subtask, error) {
	if p.catalog == nil || p.catalog.Len() == 0 {
		return nil, nil
	}

	resp, err := p.provider.Generate(ctx, orchestrate.GenerateRequest{
		History: []orchestrate.Message{
			{Role: orchestrate.RoleUser, Content: decompositionPrompt(request, p.catalog)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition call failed: %w", err)
	}

	var parsed decompositionResponse
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse decomposition response: %w (response was: %s)", err, resp.Text)
	}

	subtasks := make([]Subtask, 0, len(parsed.Subtasks))
	for _, st := range parsed.Subtasks {
		if !p.catalog.Has(st.AgentID) {
			continue
		}
		subtasks = append(subtasks, Subtask{
			AgentID:            st.AgentID,
			TaskDescription:    st.TaskDescription,
			ExpectedOutputType: st.ExpectedOutputType,
		})
	}

	if len(subtasks) > maxSubtasks {
		subtasks = subtasks[:maxSubtasks]
	}

	return subtasks, nil
}

// decompositionPrompt builds the structured-JSON decomposition prompt listing
// every agent in catalog.
func decompositionPrompt(request string, catalog *config.AgentCatalog) string {
	var agentList strings.Builder
	for _, id := range catalog.IDs() {
		entry, _ := catalog.Get(id)
		fmt.Fprintf(&agentList, "- %s: %s\n", id, entry.Description)
	}

	return fmt.Sprintf(`Analyze the following user request and decompose it into independent subtasks that can be executed in parallel by specialized agents.

User Request: %s

Available Agents:
%s
Instructions:
1. Break down the request into %d-%d independent subtasks
2. Each subtask should be self-contained and can be executed in parallel
3. Assign each subtask to the most appropriate agent from the available list
4. Provide clear task descriptions
5. Specify the expected output type for each subtask (e.g., "code_review", "implementation", "analysis", "documentation")

Respond in JSON format:
{
  "subtasks": [
    {
      "agent_id": "agent_id",
      "task_description": "clear description of what the agent should do",
      "expected_output_type": "type of output expected"
    }
  ]
}

Only include subtasks that are truly independent and can run in parallel. If the request is too simple, return an empty subtasks array.`, request, agentList.String(), minSubtasks, maxSubtasks)
}

// extractJSON trims any leading/trailing prose a model might wrap its JSON
// response in, returning the substring from the first '{' to the last '}'.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
