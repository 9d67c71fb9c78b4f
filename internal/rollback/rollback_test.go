package rollback

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenMem struct {
	lethal map[string]bool
}

func newStubGenMem() *stubGenMem { return &stubGenMem{lethal: make(map[string]bool)} }

func (s *stubGenMem) MarkLethal(contentHash, skillName, reason string, occurredAtMS int64) error {
	s.lethal[contentHash] = true
	return nil
}

func (s *stubGenMem) IsLethal(contentHash string) (bool, error) { return s.lethal[contentHash], nil }

func TestRegisterAndHistoryPreservesOrder(t *testing.T) {
	m := NewManager(nil)
	v1 := &PatchVersion{SkillName: "Echo", TimestampMS: 100, ContentHash: "a"}
	v2 := &PatchVersion{SkillName: "Echo", TimestampMS: 200, ContentHash: "b"}
	m.Register(v1)
	m.Register(v2)

	want := []*PatchVersion{v1, v2}
	got := m.History("Echo")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("History() mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkActiveDemotesPreviousVersion(t *testing.T) {
	m := NewManager(nil)
	v1 := &PatchVersion{SkillName: "Echo", TimestampMS: 100, ContentHash: "a"}
	v2 := &PatchVersion{SkillName: "Echo", TimestampMS: 200, ContentHash: "b"}
	m.Register(v1)
	m.Register(v2)

	require.NoError(t, m.MarkActive("Echo", 100))
	active, ok := m.Active("Echo")
	require.True(t, ok)
	assert.Equal(t, int64(100), active.TimestampMS)

	require.NoError(t, m.MarkActive("Echo", 200))
	active, ok = m.Active("Echo")
	require.True(t, ok)
	assert.Equal(t, int64(200), active.TimestampMS)
	assert.False(t, v1.Active, "previously active version must be demoted")
}

func TestMarkActiveUnknownTimestampReturnsNotFound(t *testing.T) {
	m := NewManager(nil)
	m.Register(&PatchVersion{SkillName: "Echo", TimestampMS: 100})
	err := m.MarkActive("Echo", 999)
	require.Error(t, err)
}

func TestRollbackToExplicitTimestampMarksLethalAndDemotesFailing(t *testing.T) {
	genmem := newStubGenMem()
	m := NewManager(genmem)
	v1 := &PatchVersion{SkillName: "Echo", TimestampMS: 100, ContentHash: "good"}
	v2 := &PatchVersion{SkillName: "Echo", TimestampMS: 200, ContentHash: "bad", Active: true}
	m.Register(v1)
	m.Register(v2)

	target, err := m.RollbackTo("Echo", 100, 300)
	require.NoError(t, err)
	assert.Equal(t, "good", target.ContentHash)
	assert.True(t, v1.Active)
	assert.False(t, v2.Active)
	assert.True(t, genmem.lethal["bad"], "rolled-back content hash must be marked lethal")
}

func TestRollbackToZeroTimestampPicksMostRecentNonActive(t *testing.T) {
	genmem := newStubGenMem()
	m := NewManager(genmem)
	m.Register(&PatchVersion{SkillName: "Echo", TimestampMS: 100, ContentHash: "oldest"})
	mid := &PatchVersion{SkillName: "Echo", TimestampMS: 200, ContentHash: "mid"}
	m.Register(mid)
	m.Register(&PatchVersion{SkillName: "Echo", TimestampMS: 300, ContentHash: "bad", Active: true})

	target, err := m.RollbackTo("Echo", 0, 400)
	require.NoError(t, err)
	assert.Equal(t, mid.ContentHash, target.ContentHash, "must pick the most recent non-active version, not the oldest")
}

func TestRollbackToNoHistoryReturnsNotFound(t *testing.T) {
	m := NewManager(nil)
	_, err := m.RollbackTo("Ghost", 0, 0)
	require.Error(t, err)
}

func TestRollbackToNoPriorNonActiveVersionReturnsNotFound(t *testing.T) {
	m := NewManager(nil)
	m.Register(&PatchVersion{SkillName: "Echo", TimestampMS: 100, Active: true})
	_, err := m.RollbackTo("Echo", 0, 200)
	require.Error(t, err)
}
