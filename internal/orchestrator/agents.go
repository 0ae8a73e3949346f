// Package orchestrator coordinates workflow sequences across the stagehand
// services: the process executor, the event bus, quality gates, and the
// story lifecycle manager.
package orchestrator

import "strings"

// Default agent ids. An agent id names who executes a workflow step; the
// mapping from step names to agents is a pure function of the step name.
const (
	// AgentPlanner writes product requirements documents.
	AgentPlanner = "PlannerA"
	// AgentArchitect writes architecture and tech-spec documents.
	AgentArchitect = "ArchitectB"
	// AgentScheduler drafts stories from the backlog.
	AgentScheduler = "SchedulerC"
	// AgentBuilder implements stories.
	AgentBuilder = "BuilderD"
	// AgentTester reviews and tests implementations.
	AgentTester = "TesterE"
	// AgentDesigner produces UX and design artifacts.
	AgentDesigner = "DesignerF"
	// AgentAnalyst produces briefs and research notes.
	AgentAnalyst = "AnalystG"
	// AgentFallback is the catch-all internal agent for unmatched steps.
	AgentFallback = "Orchestrator"
)

// AgentRule maps step-name keywords to an agent. Keywords match as
// case-insensitive substrings; RequireAll demands every keyword be present,
// otherwise any single keyword matches.
type AgentRule struct {
	// Agent is the id selected when the rule matches.
	Agent string
	// Keywords are the substrings matched against the step name.
	Keywords []string
	// RequireAll requires every keyword to be present.
	RequireAll bool
}

// matches reports whether the rule applies to the lowercased step name.
func (r AgentRule) matches(lowerName string) bool {
	if len(r.Keywords) == 0 {
		return false
	}
	for _, kw := range r.Keywords {
		found := strings.Contains(lowerName, strings.ToLower(kw))
		if r.RequireAll && !found {
			return false
		}
		if !r.RequireAll && found {
			return true
		}
	}
	return r.RequireAll
}

// AgentTable is a prioritized rule list evaluated in order with an explicit
// fallback. Deployments may replace the table; the default mapping below is
// part of the system's documented behavior.
type AgentTable struct {
	// Rules are evaluated in order; the first match wins.
	Rules []AgentRule
	// Fallback is selected when no rule matches.
	Fallback string
}

// DefaultAgentTable returns the authoritative step-name-to-agent mapping.
func DefaultAgentTable() AgentTable {
	return AgentTable{
		Rules: []AgentRule{
			{Agent: AgentPlanner, Keywords: []string{"prd"}},
			{Agent: AgentArchitect, Keywords: []string{"architecture", "tech-spec"}},
			{Agent: AgentScheduler, Keywords: []string{"story", "create"}, RequireAll: true},
			{Agent: AgentBuilder, Keywords: []string{"implement", "dev"}},
			{Agent: AgentTester, Keywords: []string{"test", "qa"}},
			{Agent: AgentDesigner, Keywords: []string{"ux", "design"}},
			{Agent: AgentAnalyst, Keywords: []string{"brief", "research"}},
		},
		Fallback: AgentFallback,
	}
}

// Select returns the agent id for a step name. Deterministic: the same name
// always yields the same agent.
func (t AgentTable) Select(stepName string) string {
	lower := strings.ToLower(stepName)
	for _, rule := range t.Rules {
		if rule.matches(lower) {
			return rule.Agent
		}
	}
	return t.Fallback
}
