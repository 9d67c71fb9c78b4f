package orchestrator

import "strings"

// route names one of the three Sparse-mode expert routes (spec.md §4.2).
type route string

const (
	routeSystemCommand   route = "system-command"
	routeKnowledgeQuery  route = "knowledge-query"
	routeGeneralReasoning route = "general-reasoning"
)

var systemKeywords = []string{"shell", "exec", "process", "file", "delete", "rm ", "kill", "run command"}
var knowledgeKeywords = []string{"recall", "remember", "lookup", "memory", "what did i", "find my"}

// classifyRoute is a pure, deterministic keyword classifier: no LLM call.
// Precedence is fixed: system-command > knowledge-query > general-reasoning;
// an input matching both resolves to system-command.
func classifyRoute(text string) route {
	lower := strings.ToLower(text)
	if containsAny(lower, systemKeywords) {
		return routeSystemCommand
	}
	if containsAny(lower, knowledgeKeywords) {
		return routeKnowledgeQuery
	}
	return routeGeneralReasoning
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
