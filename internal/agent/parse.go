package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloud-shuttle/roundup/internal/executor"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// executorPayload is the JSON shape emitted by the executor in print mode.
// Plain-text output is tolerated; cost then reads as zero.
type executorPayload struct {
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	SessionID    string  `json:"session_id"`
}

// decodeOutput extracts the response text and incremental cost from an
// executor run
func decodeOutput(res *executor.Result) (string, float64) {
	var p executorPayload
	if err := json.Unmarshal([]byte(res.Stdout), &p); err != nil {
		return res.Stdout, 0
	}
	return p.Result, p.TotalCostUSD
}

// execFailure turns a timeout or non-zero exit into a clarification-routed
// failure, or nil if the run succeeded
func execFailure(res *executor.Result) *Result {
	_, cost := decodeOutput(res)
	if res.TimedOut {
		return failureResult(fmt.Sprintf("executor timed out after %v", res.Duration), cost)
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("executor exited with code %d", res.ExitCode)
		if s := strings.TrimSpace(res.Stderr); s != "" {
			msg += ": " + firstLine(s)
		}
		return failureResult(msg, cost)
	}
	return nil
}

// triageDecision is the strict structured payload the triage agent must emit
type triageDecision struct {
	NextAgent   string `json:"next_agent"`
	NextSection string `json:"next_section"`
	Reason      string `json:"reason"`
}

// parseTriage requires a structured decision. An unparseable decision fails
// the item and routes the task to clarification rather than dropping it.
func parseTriage(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)

	raw := extractJSONObject(text)
	if raw == "" {
		return failureResult("triage produced no decision payload", cost)
	}

	var d triageDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return failureResult(fmt.Sprintf("triage decision unparseable: %v", err), cost)
	}

	switch d.NextAgent {
	case string(types.AgentPlanner):
		return &Result{
			Success:      true,
			NextAgent:    types.AgentPlanner,
			NextSection:  SectionPlanning,
			Summary:      d.Reason,
			Cost:         cost,
			ClearSession: true,
		}
	case "clarification", "":
		return &Result{
			Success:     true,
			NextSection: SectionClarification,
			Summary:     d.Reason,
			Cost:        cost,
		}
	default:
		return failureResult(fmt.Sprintf("triage named unknown next agent %q", d.NextAgent), cost)
	}
}

// BlockedSentinel is the marker a planner emits when it cannot proceed
const BlockedSentinel = "BLOCKED:"

// parsePlanner scans for the blocked sentinel; a blocked plan routes to
// clarification, anything else hands off to the worker stage
func parsePlanner(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)

	if idx := strings.Index(text, BlockedSentinel); idx >= 0 {
		reason := firstLine(text[idx+len(BlockedSentinel):])
		return &Result{
			Success:     true,
			NextSection: SectionClarification,
			Summary:     "plan blocked: " + strings.TrimSpace(reason),
			Cost:        cost,
		}
	}

	return &Result{
		Success:      true,
		NextAgent:    types.AgentWorker,
		NextSection:  SectionInProgress,
		Summary:      "plan ready",
		Cost:         cost,
		ClearSession: true,
	}
}

// parseWorker routes a finished build to review
func parseWorker(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)
	return &Result{
		Success:      true,
		NextAgent:    types.AgentReviewer,
		NextSection:  SectionReview,
		Summary:      firstLine(text),
		Cost:         cost,
		ClearSession: true,
	}
}

// Review verdict markers
const (
	verdictApproved = "VERDICT: APPROVED"
	verdictRework   = "VERDICT: REWORK"
)

// parseReviewer accepts an explicit verdict; a missing verdict is treated as
// ambiguity, not approval
func parseReviewer(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(upper, verdictApproved):
		return &Result{
			Success:      true,
			NextAgent:    types.AgentDocumentation,
			NextSection:  SectionDocumentation,
			Summary:      "review approved",
			Cost:         cost,
			ClearSession: true,
		}
	case strings.Contains(upper, verdictRework):
		return &Result{
			Success:      true,
			NextAgent:    types.AgentWorker,
			NextSection:  SectionInProgress,
			Summary:      "review requested rework",
			Cost:         cost,
			ClearSession: true,
		}
	default:
		return failureResult("review produced no verdict", cost)
	}
}

// parseDocumentation finishes the pipeline
func parseDocumentation(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)
	return &Result{
		Success:     true,
		NextSection: SectionDone,
		Summary:     firstLine(text),
		Cost:        cost,
	}
}

// parseScanner always routes to done regardless of findings; scanners
// report, they never gate
func parseScanner(res *executor.Result) *Result {
	if fail := execFailure(res); fail != nil {
		return fail
	}
	text, cost := decodeOutput(res)
	return &Result{
		Success:     true,
		NextSection: SectionDone,
		Summary:     firstLine(text),
		Details:     nonEmptyLines(text, 20),
		Cost:        cost,
	}
}

// extractJSONObject returns the first balanced {...} block in text
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func nonEmptyLines(s string, max int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= max {
			break
		}
	}
	return lines
}
