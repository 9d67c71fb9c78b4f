// Package registry implements the Skill Registry & Plugin Loader
// (spec.md §4.3): a copy-on-write snapshot of name -> skill handle, safe
// hot-swap, and two execution strategies for dynamically loaded artifacts
// (compiled subprocess, interpreted via yaegi).
package registry

import (
	"sync/atomic"

	"codenerd/internal/errs"
	"codenerd/internal/skill"
)

type entry struct {
	handle skill.Skill
	tier   skill.Tier
	// artifactPath is empty for statically registered (built-in) skills.
	artifactPath string
}

// snapshot is the immutable name->entry mapping a single dispatch observes.
// Readers always see a consistent snapshot even across a concurrent swap.
type snapshot struct {
	entries map[string]entry
}

// Registry holds built-in and dynamically-loaded skill handles.
type Registry struct {
	current atomic.Pointer[snapshot]
	// previous retains the prior entry per skill name for rollback; the
	// next HotSwap of that name overwrites it, and nothing else removes it.
	previous map[string]entry
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{previous: make(map[string]entry)}
	r.current.Store(&snapshot{entries: make(map[string]entry)})
	return r
}

func (r *Registry) snap() *snapshot { return r.current.Load() }

// clone returns a shallow copy of the current snapshot's entries map, the
// copy-on-write staging ground for the next published snapshot.
func (r *Registry) clone() map[string]entry {
	cur := r.snap().entries
	out := make(map[string]entry, len(cur)+1)
	for k, v := range cur {
		out[k] = v
	}
	return out
}

func (r *Registry) publish(entries map[string]entry) {
	r.current.Store(&snapshot{entries: entries})
}

// Register adds a statically registered (built-in) skill. Registering a
// name that already exists overwrites it directly (used only at process
// boot, before any dispatch is possible); runtime replacement must go
// through HotSwap.
func (r *Registry) Register(name string, h skill.Skill, tier skill.Tier) {
	entries := r.clone()
	entries[name] = entry{handle: h, tier: tier}
	r.publish(entries)
}

// Get resolves a skill by name against the current snapshot.
func (r *Registry) Get(name string) (skill.Skill, bool) {
	e, ok := r.snap().entries[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Tier returns the trust tier of a registered skill.
func (r *Registry) Tier(name string) (skill.Tier, bool) {
	e, ok := r.snap().entries[name]
	if !ok {
		return "", false
	}
	return e.tier, true
}

// List returns the names of all currently registered skills.
func (r *Registry) List() []string {
	entries := r.snap().entries
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	return names
}

// HotSwap atomically replaces the registry entry for name. A name that has
// never been registered cannot be hot-swapped (prevents "register new Core
// skill via Extension" escalation); the replacement's tier must equal the
// replaced skill's tier. The previous entry is retained for rollback.
func (r *Registry) HotSwap(name string, h skill.Skill, tier skill.Tier, artifactPath string) error {
	entries := r.clone()
	old, existed := entries[name]
	if !existed {
		return errs.Newf(errs.NotFound, "skill %q has never been registered, cannot hot-swap", name)
	}
	if old.tier != tier {
		return errs.Newf(errs.PermissionDenied, "hot-swap tier mismatch for %q: existing=%s replacement=%s", name, old.tier, tier)
	}
	r.previous[name] = old
	entries[name] = entry{handle: h, tier: tier, artifactPath: artifactPath}
	r.publish(entries)
	return nil
}

// PreviousArtifact returns the pre-swap entry for name, if any, for use by
// the Rollback Manager.
func (r *Registry) PreviousArtifact(name string) (skill.Skill, skill.Tier, string, bool) {
	e, ok := r.previous[name]
	if !ok {
		return nil, "", "", false
	}
	return e.handle, e.tier, e.artifactPath, true
}

// RollbackTo restores name's entry to a prior handle (used by the Rollback
// Manager after selecting an explicit PatchVersion to revert to).
func (r *Registry) RollbackTo(name string, h skill.Skill, tier skill.Tier, artifactPath string) {
	entries := r.clone()
	entries[name] = entry{handle: h, tier: tier, artifactPath: artifactPath}
	r.publish(entries)
}
