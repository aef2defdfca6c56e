// Package agent implements the per-agent-type routing logic. Every agent
// variant shares one contract: given a target and a session, produce a
// routing decision. Variants are selected from a lookup table, not
// inheritance; adding an agent type means adding a parse function.
package agent

import (
	"errors"
	"fmt"

	"github.com/cloud-shuttle/roundup/internal/executor"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Board section names the routing machine moves tasks through
const (
	SectionReadyQueue    = "Ready Queue"
	SectionPlanning      = "Planning"
	SectionInProgress    = "In Progress"
	SectionReview        = "Review"
	SectionDocumentation = "Documentation"
	SectionClarification = "Clarification"
	SectionDone          = "Done"
)

// ErrCostLimit reports a task that has reached its cost ceiling. The check
// runs strictly before dispatch: an execution already under way may push the
// accumulated cost past the ceiling once, and only the next dispatch is
// refused.
var ErrCostLimit = errors.New("task cost limit reached")

// Result is one agent execution's routing decision
type Result struct {
	Success      bool
	NextAgent    types.AgentType // empty when no follow-up work is queued
	NextSection  string
	Summary      string
	Details      []string
	Err          string
	Cost         float64
	ClearSession bool
	Assignee     string
}

// parseFunc turns a finished executor run into a routing decision
type parseFunc func(res *executor.Result) *Result

// routes is the dispatch table mapping agent types to their parsers
var routes = map[types.AgentType]parseFunc{
	types.AgentTriage:        parseTriage,
	types.AgentPlanner:       parsePlanner,
	types.AgentWorker:        parseWorker,
	types.AgentReviewer:      parseReviewer,
	types.AgentDocumentation: parseDocumentation,
	types.AgentRefactor:      parseScanner,
	types.AgentConsolidation: parseScanner,
	types.AgentIdeation:      parseScanner,
}

// routeFor returns the parser for an agent type
func routeFor(agentType types.AgentType) (parseFunc, error) {
	fn, ok := routes[agentType]
	if !ok {
		return nil, fmt.Errorf("no routing defined for agent type %q", agentType)
	}
	return fn, nil
}

// failureResult routes an unrecoverable execution to the clarification
// lane; clarification is never auto-retried and waits for a human.
func failureResult(errMsg string, cost float64) *Result {
	return &Result{
		Success:     false,
		NextSection: SectionClarification,
		Err:         errMsg,
		Cost:        cost,
	}
}
