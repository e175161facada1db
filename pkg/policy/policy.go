// Package policy implements per-call admission control: matching a
// (tool, args) pair against an ordered rule set and returning an action.
package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// Action is the decision an evaluated rule (or the fallback approval mode)
// produces for a tool call.
type Action string

const (
	ActionAllow       Action = "allow"
	ActionDeny        Action = "deny"
	ActionAskUser     Action = "ask_user"
	ActionDryRunFirst Action = "dry_run_first"
)

// Priority orders rules; higher wins, ties broken by stable original order.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityUser
	PriorityWorkspace
	PriorityAdmin
)

// Rule is one admission-control rule.
type Rule struct {
	Name        string
	ToolPattern string         // glob matched against the tool name
	ArgPattern  *regexp.Regexp // optional regex matched against stringified args
	Action      Action
	Priority    Priority
	Reason      string
}

// ApprovalMode is the fallback behavior applied when no rule matches.
type ApprovalMode string

const (
	ApprovalAuto ApprovalMode = "auto"
	ApprovalAsk  ApprovalMode = "ask"
	ApprovalDeny ApprovalMode = "deny"
)

func (m ApprovalMode) action() Action {
	switch m {
	case ApprovalAsk:
		return ActionAskUser
	case ApprovalDeny:
		return ActionDeny
	default:
		return ActionAllow
	}
}

// Decision is the outcome of evaluating a tool call against the rule set.
type Decision struct {
	Action      Action
	MatchedRule string // empty when the fallback approval mode applied
	Reason      string
}

// AnalyticsSink records policy decisions for later trend/report queries.
// Recording must never block the hot path more than a single local write;
// implementations that need a network round trip (e.g. Postgres) must queue
// internally and never perform that round trip from Record itself.
type AnalyticsSink interface {
	Record(event Event)
}

// Event is one recorded policy decision.
type Event struct {
	ToolName    string
	Arguments   string
	Action      Action
	MatchedRule string
	Reason      string
	AgentID     string
}

// NoopSink discards every event. Used when no database is configured.
type NoopSink struct{}

// Record implements AnalyticsSink.
func (NoopSink) Record(Event) {}

// Engine holds an ordered rule set and a fallback approval mode. Rules can
// be swapped at runtime via SetRules, guarded by mu, so a config watcher can
// push a reload without the proxy server ever needing a new Engine pointer.
type Engine struct {
	mu           sync.RWMutex
	rules        []Rule
	approvalMode ApprovalMode
	sink         AnalyticsSink
}

// New builds an Engine, sorting rules by descending priority with original
// order preserved among ties (stable sort).
func New(rules []Rule, approvalMode ApprovalMode, sink AnalyticsSink) *Engine {
	if sink == nil {
		sink = NoopSink{}
	}
	e := &Engine{approvalMode: approvalMode, sink: sink}
	e.SetRules(rules)
	return e
}

// SetRules replaces the engine's rule set, re-sorting by descending priority
// with original order preserved among ties. Safe to call concurrently with
// Evaluate.
func (e *Engine) SetRules(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Evaluate matches tool/args against the ordered rule set. The first rule
// whose ToolPattern glob-matches tool and whose optional ArgPattern matches
// the stringified args wins. When nothing matches, the engine falls back to
// the configured approval mode. The decision is recorded to the analytics
// sink before returning.
func (e *Engine) Evaluate(tool string, args map[string]any) Decision {
	argsText := stringifyArgs(args)

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		matched, err := filepath.Match(rule.ToolPattern, tool)
		if err != nil || !matched {
			continue
		}
		if rule.ArgPattern != nil && !rule.ArgPattern.MatchString(argsText) {
			continue
		}
		d := Decision{Action: rule.Action, MatchedRule: rule.Name, Reason: rule.Reason}
		e.record(tool, argsText, d)
		return d
	}

	d := Decision{Action: e.approvalMode.action(), Reason: "no rule matched; applied fallback approval mode"}
	e.record(tool, argsText, d)
	return d
}

func (e *Engine) record(tool, argsText string, d Decision) {
	e.sink.Record(Event{
		ToolName:    tool,
		Arguments:   argsText,
		Action:      d.Action,
		MatchedRule: d.MatchedRule,
		Reason:      d.Reason,
	})
}

func stringifyArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
