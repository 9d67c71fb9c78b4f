package orchestrator

import "codenerd/internal/skill"

// GoalKind tags which of the six Goal variants is populated (spec.md §3.3).
type GoalKind string

const (
	GoalExecuteSkill       GoalKind = "execute_skill"
	GoalQueryKnowledge     GoalKind = "query_knowledge"
	GoalUpdateKnowledge    GoalKind = "update_knowledge_slot"
	GoalAssembleContext    GoalKind = "assemble_context"
	GoalGenerateFinal      GoalKind = "generate_final_response"
	GoalAutonomous         GoalKind = "autonomous_goal"
	GoalMemoryOp           GoalKind = "memory_op"
	GoalCustom             GoalKind = "custom"
)

// Goal is the tagged union accepted by Dispatch. Only the fields relevant
// to Kind are populated by callers; others are ignored.
type Goal struct {
	Kind GoalKind

	// ExecuteSkill
	SkillName string
	Payload   skill.Payload

	// QueryKnowledge
	SlotID int
	Query  string

	// UpdateKnowledgeSlot
	SourceURL  string
	SourceHTML string

	// AssembleContext / GenerateFinalResponse
	ContextID string

	// AutonomousGoal
	Intent  string
	Context skill.Payload

	// MemoryOp / Custom escape hatches
	Op   string
	Args skill.Payload
}

// impliedSlotID extracts a slot id from a payload's well-known fields
// ("slot_id" or "kb_layer"), as spec.md §4.2 step 2 requires.
func impliedSlotID(payload skill.Payload) (int, bool) {
	if payload == nil {
		return 0, false
	}
	if v, ok := payload["slot_id"]; ok {
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	if v, ok := payload["kb_layer"]; ok {
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

// impliedSlot resolves the slot a goal's dispatch implies, per spec.md
// §4.2 step 2: QueryKnowledge/UpdateKnowledgeSlot carry an explicit typed
// slot_id; ExecuteSkill's slot (if any) is extracted from its payload.
func impliedSlot(g Goal) (int, bool) {
	switch g.Kind {
	case GoalQueryKnowledge, GoalUpdateKnowledge:
		return g.SlotID, true
	case GoalExecuteSkill:
		return impliedSlotID(g.Payload)
	default:
		return 0, false
	}
}

func slotDisabledExtra(g Goal, slotID int) skill.Payload {
	extra := skill.Payload{"slot_id": slotID}
	if g.Kind == GoalQueryKnowledge {
		extra["query"] = g.Query
	}
	return extra
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
