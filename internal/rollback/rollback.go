// Package rollback implements the Rollback Manager (spec.md §4.7): the
// chronological PatchVersion list per skill, with register/mark-active/
// rollback operations and Genetic Memory updates on rollback.
package rollback

import (
	"sort"
	"sync"

	"codenerd/internal/errs"
)

// PatchVersion ties together a skill identifier, timestamp, content hash,
// description, approval status, and pointers to source/artifact files
// (spec.md §3.6).
type PatchVersion struct {
	SkillName    string
	TimestampMS  int64
	ContentHash  string
	Description  string
	Approved     bool
	SourcePath   string
	ArtifactPath string
	Active       bool
}

// GeneticMemory maps content hash -> lethal-mutation record, so identical
// rejected or rolled-back code is never reconsidered by the Forge.
type GeneticMemory interface {
	MarkLethal(contentHash, skillName, reason string, occurredAtMS int64) error
	IsLethal(contentHash string) (bool, error)
}

// Manager maintains the chronological PatchVersion list per skill.
type Manager struct {
	mu       sync.Mutex
	versions map[string][]*PatchVersion // skillName -> chronological list
	genmem   GeneticMemory
}

func NewManager(genmem GeneticMemory) *Manager {
	return &Manager{versions: make(map[string][]*PatchVersion), genmem: genmem}
}

// Register appends a new PatchVersion to a skill's chronological list.
func (m *Manager) Register(pv *PatchVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[pv.SkillName] = append(m.versions[pv.SkillName], pv)
}

// MarkActive marks pv active for its skill, demoting any previously active
// version for that skill.
func (m *Manager) MarkActive(skillName string, timestampMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.versions[skillName]
	found := false
	for _, v := range list {
		if v.TimestampMS == timestampMS {
			v.Active = true
			found = true
		} else {
			v.Active = false
		}
	}
	if !found {
		return errs.Newf(errs.NotFound, "no PatchVersion for %s at %d", skillName, timestampMS)
	}
	return nil
}

// Active returns the currently active PatchVersion for a skill, if any.
func (m *Manager) Active(skillName string) (*PatchVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[skillName] {
		if v.Active {
			return v, true
		}
	}
	return nil, false
}

// RollbackTo rolls back skillName to the PatchVersion at explicit
// timestampMS, or the most recent non-active version if timestampMS is 0.
// The older version is marked active, the failing version demoted, and the
// failing version's code hash is marked Lethal in Genetic Memory. Only this
// Manager's records change: no artifact is loaded and the Skill Registry
// entry is left as it is.
func (m *Manager) RollbackTo(skillName string, timestampMS int64, nowMS int64) (*PatchVersion, error) {
	m.mu.Lock()
	list := append([]*PatchVersion(nil), m.versions[skillName]...)
	m.mu.Unlock()

	if len(list) == 0 {
		return nil, errs.Newf(errs.NotFound, "no PatchVersion history for skill %q, rollback unavailable", skillName)
	}

	var failing *PatchVersion
	for _, v := range list {
		if v.Active {
			failing = v
		}
	}

	var target *PatchVersion
	if timestampMS != 0 {
		for _, v := range list {
			if v.TimestampMS == timestampMS {
				target = v
			}
		}
		if target == nil {
			return nil, errs.Newf(errs.NotFound, "no PatchVersion for %s at timestamp %d", skillName, timestampMS)
		}
	} else {
		sorted := append([]*PatchVersion(nil), list...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampMS > sorted[j].TimestampMS })
		for _, v := range sorted {
			if !v.Active {
				target = v
				break
			}
		}
		if target == nil {
			return nil, errs.New(errs.NotFound, "no prior non-active PatchVersion available for rollback")
		}
	}

	if err := m.MarkActive(skillName, target.TimestampMS); err != nil {
		return nil, err
	}

	if failing != nil && m.genmem != nil {
		if err := m.genmem.MarkLethal(failing.ContentHash, skillName, "rolled back", nowMS); err != nil {
			return nil, err
		}
	}

	return target, nil
}

// History returns the chronological PatchVersion list for a skill.
func (m *Manager) History(skillName string) []*PatchVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PatchVersion(nil), m.versions[skillName]...)
}
