// Package orchestrator implements the Orchestrator & Dispatcher (spec.md
// §4.2): goal routing, permission gating against the Skill Manifest, and
// Blueprint chain execution.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"codenerd/internal/controlplane"
	"codenerd/internal/errs"
	"codenerd/internal/kb"
	"codenerd/internal/logging"
	"codenerd/internal/registry"
	"codenerd/internal/skill"
)

// Well-known skill identifiers the dispatch algorithm calls by convention.
const (
	SkillResearchAudit = "research_audit"
	SkillModelRouter   = "model_router"
	SkillSystemCommand = "system_command"
	SkillKnowledgeQuery = "knowledge_query"
)

// Dispatcher implements the single dispatch(tenant, goal) operation.
type Dispatcher struct {
	Store      *kb.Store
	Registry   *registry.Registry
	Panel      *controlplane.Panel
	Blueprints *skill.BlueprintRegistry
	StrictMode bool
}

// Dispatch implements spec.md §4.2 steps 1-7.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant string, goal Goal) (Result, error) {
	logger := logging.For(logging.CategoryOrchestrator)

	if !d.Panel.SkillsEnabled() {
		return statusResult("skills_disabled", nil), nil
	}

	result, err := d.dispatchInner(ctx, tenant, goal)
	if err != nil {
		outcome := string(errs.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		_ = d.Store.AppendEvent(kb.EventRecord{
			TimestampMS: time.Now().UnixMilli(),
			Component:   "orchestrator",
			Message:     "dispatch failed",
			Outcome:     outcome,
			Skill:       goal.SkillName,
		})
		logger.Sugar().Warnw("dispatch failed", "kind", goal.Kind, "error", err)
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) dispatchInner(ctx context.Context, tenant string, goal Goal) (Result, error) {
	// Step 2-3: extract implied slot and check control-panel gating. For
	// QueryKnowledge/UpdateKnowledgeSlot the slot is the goal's own typed
	// field; for ExecuteSkill it is extracted from the opaque payload via
	// the well-known slot_id/kb_layer fields.
	if slotID, ok := impliedSlot(goal); ok {
		if !d.Panel.SlotEnabled(slotID) {
			return statusResult("kb_disabled", slotDisabledExtra(goal, slotID)), nil
		}
	}

	switch goal.Kind {
	case GoalExecuteSkill:
		return d.dispatchExecuteSkill(ctx, tenant, goal)
	case GoalQueryKnowledge:
		return d.dispatchQueryKnowledge(ctx, tenant, goal)
	case GoalUpdateKnowledge:
		return d.dispatchUpdateKnowledge(ctx, tenant, goal)
	case GoalAutonomous:
		return d.dispatchAutonomous(ctx, tenant, goal)
	case GoalGenerateFinal:
		return d.dispatchGenerateFinal(ctx, tenant, goal)
	case GoalAssembleContext:
		return d.dispatchExecuteSkill(ctx, tenant, Goal{Kind: GoalExecuteSkill, SkillName: "assemble_context", Payload: skill.Payload{"context_id": goal.ContextID}})
	case GoalMemoryOp, GoalCustom:
		return d.dispatchEscapeHatch(ctx, tenant, goal)
	default:
		return nil, errs.Newf(errs.NotFound, "unknown goal kind %q", goal.Kind)
	}
}

func (d *Dispatcher) dispatchEscapeHatch(ctx context.Context, tenant string, goal Goal) (Result, error) {
	if goal.SkillName == "" {
		return statusResult("ok", skill.Payload{"op": goal.Op}), nil
	}
	return d.invoke(ctx, tenant, goal.SkillName, goal.Args)
}

// dispatchExecuteSkill implements step 4: consult the manifest for
// skill x slot, enforcing the Sovereignty Firewall before invocation.
func (d *Dispatcher) dispatchExecuteSkill(ctx context.Context, tenant string, goal Goal) (Result, error) {
	if slotID, ok := impliedSlotID(goal.Payload); ok {
		if err := d.checkManifest(goal.SkillName, slotID, true); err != nil {
			return nil, err
		}
	}
	return d.invoke(ctx, tenant, goal.SkillName, goal.Payload)
}

func (d *Dispatcher) dispatchQueryKnowledge(ctx context.Context, tenant string, goal Goal) (Result, error) {
	if err := d.checkManifest(SkillKnowledgeQuery, goal.SlotID, false); err != nil {
		return nil, err
	}
	return d.invoke(ctx, tenant, SkillKnowledgeQuery, skill.Payload{"slot_id": goal.SlotID, "query": goal.Query})
}

func (d *Dispatcher) dispatchUpdateKnowledge(ctx context.Context, tenant string, goal Goal) (Result, error) {
	if err := d.checkManifest(goal.SkillName, goal.SlotID, true); err != nil {
		return nil, err
	}
	payload := skill.Payload{"slot_id": goal.SlotID, "source_url": goal.SourceURL, "source_html": goal.SourceHTML}
	name := goal.SkillName
	if name == "" {
		name = "knowledge_ingest"
	}
	return d.invoke(ctx, tenant, name, payload)
}

// dispatchAutonomous implements step 5: Blueprint chain execution.
func (d *Dispatcher) dispatchAutonomous(ctx context.Context, tenant string, goal Goal) (Result, error) {
	bp, ok := d.Blueprints.Get(goal.Intent)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "unknown intent %q", goal.Intent)
	}

	traceID := uuid.NewString()
	var last skill.Payload = goal.Context
	var trace []skill.Payload

	for i, stepSkill := range bp.Steps {
		payload := last
		if i > 0 {
			payload = bp.Chain(i, last)
		}
		res, err := d.invoke(ctx, tenant, stepSkill, payload)
		if err != nil {
			return nil, err // short-circuit on first error
		}
		last = res
		trace = append(trace, res)
	}

	if _, ok := d.Registry.Get(SkillResearchAudit); ok {
		traceJSON, _ := json.Marshal(trace)
		_ = d.Store.AppendEvent(kb.EventRecord{
			TimestampMS: time.Now().UnixMilli(),
			Component:   "orchestrator",
			Message:     string(traceJSON),
			Outcome:     "success",
			Skill:       SkillResearchAudit,
		})
	}

	out := skill.Payload{}
	for k, v := range last {
		out[k] = v
	}
	out["trace_id"] = traceID
	return out, nil
}

// dispatchGenerateFinal implements step 6: draft -> model-router two-stage flow.
func (d *Dispatcher) dispatchGenerateFinal(ctx context.Context, tenant string, goal Goal) (Result, error) {
	draft, err := d.invoke(ctx, tenant, "draft_response", skill.Payload{"context_id": goal.ContextID})
	if err != nil {
		return nil, err
	}
	prompt := draft["draft"]
	routed, err := d.invoke(ctx, tenant, SkillModelRouter, skill.Payload{"prompt": prompt})
	if err != nil {
		return nil, err
	}
	merged := skill.Payload{}
	for k, v := range draft {
		merged[k] = v
	}
	for k, v := range routed {
		merged[k] = v
	}
	return merged, nil
}

func (d *Dispatcher) checkManifest(skillName string, slotID int, write bool) error {
	manifest, err := d.loadManifest()
	if err != nil {
		return err
	}
	if !manifest.CanAccess(skillName, slotID, write, d.StrictMode) {
		return errs.Newf(errs.SovereigntyViolation, "skill %q denied %s access to slot %d", skillName, accessWord(write), slotID)
	}
	return nil
}

func accessWord(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func (d *Dispatcher) loadManifest() (skill.Manifest, error) {
	data, err := d.Store.Read(kb.SlotSkills, kb.KeySkillManifest)
	if err != nil {
		return nil, err
	}
	var m skill.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "parse skill manifest")
	}
	return m, nil
}

func (d *Dispatcher) invoke(ctx context.Context, tenant, name string, payload skill.Payload) (Result, error) {
	h, ok := d.Registry.Get(name)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "skill %q not registered", name)
	}
	out, err := h.Execute(ctx, tenant, payload)
	if err != nil {
		return nil, err
	}
	return Result(out), nil
}

// ApplySparseRouting resolves free-form text to a route and returns the
// skill name and payload for the corresponding ExecuteSkill goal, per spec.md §4.2's Dispatch
// Mode gating. Callers invoke this before Dispatch when Panel.DispatchMode()
// is Sparse and the goal is free-form (Custom/MemoryOp carrying raw text).
func ApplySparseRouting(text string) (skillName string, payload skill.Payload) {
	switch classifyRoute(text) {
	case routeSystemCommand:
		return SkillSystemCommand, skill.Payload{"text": text}
	case routeKnowledgeQuery:
		return SkillKnowledgeQuery, skill.Payload{"text": text}
	default:
		return SkillModelRouter, skill.Payload{"text": text}
	}
}
