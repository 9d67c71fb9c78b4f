package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codenerd/internal/errs"
	"codenerd/internal/registry"
	"codenerd/internal/rollback"
	"codenerd/internal/skill"
)

// cleanInterpretedSource contains none of the filesystem/exec/network
// primitives Compile checks for, so these tests never shell out to the real
// Go toolchain (mirrors the teacher's own autopoiesis tests, which likewise
// never invoke `go build` from within a unit test).
const cleanInterpretedSource = `package main

func run(input map[string]interface{}) interface{} {
	return map[string]interface{}{"ok": true}
}
`

func newTestPipeline(t *testing.T, reviewer *Reviewer) (*Pipeline, *registry.Registry, string) {
	t.Helper()
	genmem, err := NewGeneticMemory(t.TempDir())
	require.NoError(t, err)

	reg := registry.New()
	reg.Register("Echo", stubSkill{"Echo"}, skill.TierExtension)

	if reviewer == nil {
		reviewer = NewReviewer(ReviewerConfig{Model: "heuristic-analyzer-v1"})
	}

	safety := true
	p := &Pipeline{
		GenMem:   genmem,
		Gate:     ApprovalGate{AutoApprove: true},
		Reviewer: reviewer,
		Rollback: rollback.NewManager(genmem),
		Registry: reg,
		Compiler: &Compiler{SourceDir: t.TempDir(), ArtifactDir: t.TempDir(), Timeout: 5 * time.Second},
		SafetyOn: func() bool { return safety },
		SetSafety: func(v bool) { safety = v },
	}
	return p, reg, "Echo"
}

type stubSkill struct{ name string }

func (s stubSkill) Name() string { return s.name }
func (s stubSkill) Execute(ctx context.Context, tenant string, payload skill.Payload) (skill.Payload, error) {
	return payload, nil
}

func fixedClock(ms int64) func() int64 {
	return func() int64 { return ms }
}

func TestPipelineRejectsLethalDuplicate(t *testing.T) {
	p, _, name := newTestPipeline(t, nil)
	hash := ContentHash(canonicalize(cleanInterpretedSource))
	require.NoError(t, p.GenMem.MarkLethal(hash, name, "prior critical finding", 1000))

	res, err := p.Run(context.Background(), Proposal{SkillName: name, Description: "retry", Code: cleanInterpretedSource, Tier: skill.TierExtension}, fixedClock(2000))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, errs.LethalDuplicate, res.RejectKind)
	assert.Equal(t, StageProposed, res.Stage)
}

func TestPipelineRejectsWhenApprovalGateOff(t *testing.T) {
	p, _, name := newTestPipeline(t, nil)
	p.Gate.AutoApprove = false

	res, err := p.Run(context.Background(), Proposal{SkillName: name, Description: "needs review", Code: cleanInterpretedSource, Tier: skill.TierExtension}, fixedClock(1000))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, errs.PermissionDenied, res.RejectKind)
	assert.Equal(t, StageGenMemChecked, res.Stage)
}

func TestPipelineRejectsPeerReviewCriticalAndMarksLethal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: `{
			"overall_severity": "critical",
			"passed": false,
			"summary": "remote code execution vector",
			"findings": [{"category": "Command Injection", "severity": "critical", "description": "unsanitized exec"}]
		}`}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	reviewer := NewReviewer(ReviewerConfig{Model: "remote-reviewer", APIURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
	p, _, name := newTestPipeline(t, reviewer)

	res, err := p.Run(context.Background(), Proposal{SkillName: name, Description: "adds a feature", Code: cleanInterpretedSource, Tier: skill.TierExtension}, fixedClock(1000))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, errs.PeerReviewBlocked, res.RejectKind)
	assert.Equal(t, StageCompiled, res.Stage)

	hash := ContentHash(canonicalize(cleanInterpretedSource))
	lethal, err := p.GenMem.IsLethal(hash)
	require.NoError(t, err)
	assert.True(t, lethal, "a critical peer-review finding must mark the content hash lethal")
}

func TestPipelineReachesActiveForCleanInterpretedSkill(t *testing.T) {
	p, reg, name := newTestPipeline(t, nil)

	res, err := p.Run(context.Background(), Proposal{SkillName: name, Description: "harmless patch", Code: cleanInterpretedSource, Tier: skill.TierExtension}, fixedClock(1000))
	require.NoError(t, err)
	require.False(t, res.Rejected, res.RejectMsg)
	assert.True(t, res.Approved)
	assert.Equal(t, StageActive, res.Stage)
	require.NotNil(t, res.PatchVer)
	assert.True(t, res.PatchVer.Active)

	active, ok := p.Rollback.Active(name)
	require.True(t, ok)
	assert.Equal(t, res.PatchVer.TimestampMS, active.TimestampMS)

	h, ok := reg.Get(name)
	require.True(t, ok)
	assert.Equal(t, name, h.Name())
}

func TestPipelineAutoRevertsSafetyOnCompileFailure(t *testing.T) {
	p, _, name := newTestPipeline(t, nil)
	safetyOff := false
	p.SafetyOn = func() bool { return safetyOff }
	p.SetSafety = func(v bool) { safetyOff = v }

	// A non-empty package that still isn't eligible for interpretation (it
	// references net/http) forces the compiled path; pointing ArtifactDir
	// below a regular file makes MkdirAll fail before any real `go build`
	// invocation, giving a deterministic compile-stage failure.
	require.NoError(t, os.WriteFile(p.Compiler.SourceDir+"/not-a-directory", nil, 0o644))
	p.Compiler.ArtifactDir = p.Compiler.SourceDir + "/not-a-directory/nested"
	badCode := "package main\n\nimport \"net/http\"\n\nfunc run() { _ = http.Get }\n"

	_, err := p.Run(context.Background(), Proposal{SkillName: name, Description: "bad patch", Code: badCode, Tier: skill.TierExtension}, fixedClock(1000))
	require.Error(t, err)
	assert.True(t, safetyOff, "compile failure while safety was off must auto-revert it to on")
}
