// Package skill defines the capability set every registered skill
// implements, the Skill Manifest / trust-tier model, and the Blueprint
// chaining convention, all per spec.md §3.3-3.5.
package skill

import "context"

// Tier is a skill's trust level, determining default slot-access privileges.
type Tier string

const (
	TierCore      Tier = "core"
	TierExtension Tier = "extension"
	TierExternal  Tier = "external"
)

// Payload is the opaque JSON-like value exchanged with a skill.
type Payload = map[string]any

// Skill is the capability set a registered handle must satisfy: a name and
// an async execute method. Implementations must be safe to invoke across
// goroutines, since a hot-swap may run concurrently with in-flight calls
// against the snapshot they were dispatched from.
type Skill interface {
	Name() string
	Execute(ctx context.Context, tenant string, payload Payload) (Payload, error)
}

// Manifest entries map a skill identifier to its trust tier and the slots
// it may read or write, encoded as bitmasks over slots 1-9 (bit i-1 for
// slot i).
type ManifestEntry struct {
	Tier         Tier   `json:"tier"`
	ReadMask     uint16 `json:"read_mask"`
	WriteMask    uint16 `json:"write_mask"`
	EnergyCost   int    `json:"energy_cost,omitempty"`
	Priority     int    `json:"priority,omitempty"`
}

// Manifest is the slot-5 well-known record: skill identifier -> entry.
type Manifest map[string]ManifestEntry

// slotBit returns the bitmask bit for a 1-indexed slot id.
func slotBit(slotID int) uint16 { return 1 << uint(slotID-1) }

// CanAccess implements the Sovereignty Firewall (spec.md §3.5): under
// strict mode only Core may touch any slot; slot 1 (identity) and slot 9
// (shadow) are forbidden to all but Core regardless of bitmask; otherwise
// Extension/External may touch only slots in their mask for the requested
// direction.
func (m Manifest) CanAccess(skillName string, slotID int, write bool, strictMode bool) bool {
	entry, ok := m[skillName]
	if !ok {
		return false
	}
	if entry.Tier == TierCore {
		return true
	}
	if strictMode {
		return false
	}
	if slotID == 1 || slotID == 9 {
		return false
	}
	mask := entry.ReadMask
	if write {
		mask = entry.WriteMask
	}
	return mask&slotBit(slotID) != 0
}

// Blueprint is a named ordered sequence of skill identifiers, plus the
// chaining rule applied between each step (spec.md §3.4).
type Blueprint struct {
	Name string
	// Steps are skill identifiers, executed in order.
	Steps []string
	// Chain derives the next step's payload from the previous step's
	// result. The convention belongs to the Blueprint, not the skills.
	Chain func(stepIndex int, prevResult Payload) Payload
}

// DefaultChain copies the previous result's "draft" field (if any) into the
// next payload's "prompt" field, the example chaining convention spec.md
// §3.4 names explicitly; otherwise passes the previous result through
// unchanged.
func DefaultChain(_ int, prevResult Payload) Payload {
	next := Payload{}
	for k, v := range prevResult {
		next[k] = v
	}
	if draft, ok := prevResult["draft"]; ok {
		next["prompt"] = draft
	}
	return next
}

// Registry of named blueprints, consulted by the orchestrator for
// AutonomousGoal dispatch.
type BlueprintRegistry struct {
	blueprints map[string]Blueprint
}

func NewBlueprintRegistry() *BlueprintRegistry {
	return &BlueprintRegistry{blueprints: make(map[string]Blueprint)}
}

func (r *BlueprintRegistry) Register(bp Blueprint) {
	if bp.Chain == nil {
		bp.Chain = DefaultChain
	}
	r.blueprints[bp.Name] = bp
}

func (r *BlueprintRegistry) Get(name string) (Blueprint, bool) {
	bp, ok := r.blueprints[name]
	return bp, ok
}
