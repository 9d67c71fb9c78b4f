package forge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codenerd/internal/errs"
	"codenerd/internal/logging"
	"codenerd/internal/registry"
	"codenerd/internal/rollback"
	"codenerd/internal/skill"
)

// Stage names the seven states a proposed patch traverses (spec.md §4.4).
type Stage string

const (
	StageProposed       Stage = "proposed"
	StageGenMemChecked  Stage = "genmem_checked"
	StageApproved       Stage = "approved"
	StageCompiled       Stage = "compiled"
	StageReviewed       Stage = "reviewed"
	StageValidated      Stage = "validated"
	StageActive         Stage = "active"
)

// Proposal is the input to one Forge Pipeline run: a proposed patch for an
// already-registered skill.
type Proposal struct {
	SkillName   string
	Description string
	Code        string // Go source; "package main" => compiled strategy
	Tier        skill.Tier
}

// PipelineResult reports the outcome of one full pipeline run.
type PipelineResult struct {
	Stage       Stage
	Approved    bool
	Rejected    bool
	RejectKind  errs.Kind
	RejectMsg   string
	Verdict     *SecurityVerdict
	PatchVer    *rollback.PatchVersion
}

// ApprovalGate holds the Stage 2 approval policy. Run applies it after the
// static severity scan (ClassifyStatic) and before any compilation; it is
// separate from the adversarial Reviewer, which only runs after a
// successful compile (Stage 4).
type ApprovalGate struct {
	// AutoApprove, when true, approves any proposal whose static scan finds
	// no Critical-severity pattern. When false, Run rejects every proposal
	// at Stage 2 with PermissionDenied; no call exists that approves a
	// proposal held at this stage.
	AutoApprove bool
}

// ClassifyStatic performs a fast pre-compile severity scan (spec.md §4.4
// Stage 2 "severity classification via static source scan"), sharing the
// same checklist-category scanner the heuristic reviewer uses at Stage 4.
func ClassifyStatic(code string, nowMS int64) SecurityVerdict {
	return reviewHeuristic("static-scan", code, nowMS)
}

// Pipeline wires the Forge's six stages together: genetic-memory check,
// approval, compile, adversarial review, smoke test, hot-swap.
type Pipeline struct {
	GenMem     *GeneticMemory
	Gate       ApprovalGate
	Reviewer   *Reviewer
	Rollback   *rollback.Manager
	Registry   *registry.Registry
	Compiler   *Compiler
	SafetyOn   func() bool
	SetSafety  func(bool)
}

// Run executes the full pipeline for proposal, returning the terminal
// stage reached and any verdict recorded along the way.
func (p *Pipeline) Run(ctx context.Context, prop Proposal, nowMS func() int64) (*PipelineResult, error) {
	logger := logging.For(logging.CategoryForge).Sugar()
	res := &PipelineResult{Stage: StageProposed}

	hash := ContentHash(canonicalize(prop.Code))

	// Stage 1: Genetic-memory check.
	lethal, err := p.GenMem.IsLethal(hash)
	if err != nil {
		return nil, err
	}
	if lethal {
		logger.Warnw("proposal rejected: lethal duplicate", "skill", prop.SkillName, "hash", hash)
		res.Rejected = true
		res.RejectKind = errs.LethalDuplicate
		res.RejectMsg = fmt.Sprintf("content hash %s previously marked lethal", hash)
		return res, nil
	}
	res.Stage = StageGenMemChecked

	// Stage 2: Approval.
	staticVerdict := ClassifyStatic(prop.Code, nowMS())
	if staticVerdict.HasLethalFindings() {
		if err := p.GenMem.MarkLethal(hash, prop.SkillName, "critical finding at static approval scan", nowMS()); err != nil {
			return nil, err
		}
		res.Rejected = true
		res.RejectKind = errs.LethalDuplicate
		res.RejectMsg = "static scan found a critical-severity pattern"
		res.Verdict = &staticVerdict
		return res, nil
	}
	if !p.Gate.AutoApprove {
		res.Rejected = true
		res.RejectKind = errs.PermissionDenied
		res.RejectMsg = "proposal requires explicit approval (AutoApprove is off)"
		return res, nil
	}
	res.Stage = StageApproved

	// Stage 3: Compile. Persist the PatchVersion, auto-revert safety on
	// failure while it was off (spec.md §4.4 Stage 3 "auto-revert invariant").
	pv := &rollback.PatchVersion{
		SkillName:   prop.SkillName,
		TimestampMS: nowMS(),
		ContentHash: hash,
		Description: prop.Description,
	}
	compiled, artifact, err := p.Compiler.Compile(ctx, prop, pv.TimestampMS)
	if err != nil {
		if p.SafetyOn != nil && p.SetSafety != nil && !p.SafetyOn() {
			p.SetSafety(true)
			logger.Warnw("compile failed while safety was off, auto-reverting safety ON", "skill", prop.SkillName, "error", err)
		}
		return nil, errs.Wrap(errs.CompileError, err, "forge compile stage failed")
	}
	pv.SourcePath = compiled.SourcePath
	pv.ArtifactPath = artifact
	p.Rollback.Register(pv)
	res.Stage = StageCompiled
	res.PatchVer = pv

	// Stage 4: Adversarial peer review.
	verdict := p.Reviewer.ReviewPatch(ctx, prop.SkillName, prop.Code, prop.Description, nowMS())
	res.Verdict = &verdict
	gate := ConsensusGate{AutoRejectHigh: p.Reviewer.cfg.AutoRejectHigh}
	consensus := gate.Evaluate(verdict)
	if !consensus.Approved {
		if consensus.MarkLethal {
			if err := p.GenMem.MarkLethal(hash, prop.SkillName, "critical finding at peer review", nowMS()); err != nil {
				return nil, err
			}
		}
		res.Rejected = true
		res.RejectKind = errs.PeerReviewBlocked
		res.RejectMsg = consensus.Reason
		return res, nil
	}
	res.Stage = StageReviewed

	// Stage 5: Smoke test.
	if err := p.Compiler.SmokeTest(ctx, artifact); err != nil {
		return nil, errs.Wrap(errs.SmokeTestFail, err, "forge smoke test failed")
	}
	res.Stage = StageValidated

	// Stage 6: Hot-swap.
	var handle skill.Skill
	if compiled.Interpreted {
		handle = registry.NewInterpretedSkill(prop.SkillName, prop.Code)
	} else {
		handle = registry.NewCompiledSkill(prop.SkillName, artifact)
	}
	if err := p.Registry.HotSwap(prop.SkillName, handle, prop.Tier, artifact); err != nil {
		return nil, err
	}
	if err := p.Rollback.MarkActive(prop.SkillName, pv.TimestampMS); err != nil {
		return nil, err
	}
	pv.Active = true
	res.Stage = StageActive
	res.Approved = true

	logger.Infow("forge pipeline reached active", "skill", prop.SkillName, "hash", hash, "artifact", artifact)
	return res, nil
}

// canonicalize normalizes whitespace so cosmetic edits don't dodge genetic
// memory: trailing space per line and a single trailing newline.
func canonicalize(code string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

// Compiler performs Stage 3's write-then-build, grounded on the teacher's
// ToolCompiler.Compile (ouroboros.go): temp-dir build and a persisted,
// versioned source copy.
type Compiler struct {
	SourceDir   string // versioned patch-source directory
	ArtifactDir string // compiled-artifact directory
	Timeout     time.Duration
}

type compileOutcome struct {
	SourcePath  string
	Interpreted bool
}

// Compile persists the proposal's source under a timestamp-keyed name and,
// unless the proposal is eligible for interpreted execution (no
// filesystem/exec/network primitives, see eligibleForInterpretation), builds it with
// the Go toolchain into a standalone binary artifact.
func (c *Compiler) Compile(ctx context.Context, prop Proposal, timestampMS int64) (compileOutcome, string, error) {
	if err := os.MkdirAll(c.SourceDir, 0o755); err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "create patch source directory")
	}
	if err := os.MkdirAll(c.ArtifactDir, 0o755); err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "create patch artifact directory")
	}

	srcName := fmt.Sprintf("%s.%d.go", prop.SkillName, timestampMS)
	srcPath := filepath.Join(c.SourceDir, srcName)
	if err := os.WriteFile(srcPath, []byte(prop.Code), 0o644); err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "write patch source")
	}

	if eligibleForInterpretation(prop.Code) {
		return compileOutcome{SourcePath: srcPath, Interpreted: true}, "", nil
	}

	tmpDir, err := os.MkdirTemp("", "forge-build-*")
	if err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "create build temp dir")
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte(prop.Code), 0o644); err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "write build source")
	}
	modContent := fmt.Sprintf("module %s\n\ngo 1.23\n", sanitizeModuleName(prop.SkillName))
	if err := os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte(modContent), 0o644); err != nil {
		return compileOutcome{}, "", errs.Wrap(errs.IOError, err, "write build go.mod")
	}

	outputPath := filepath.Join(c.ArtifactDir, fmt.Sprintf("%s.%d", prop.SkillName, timestampMS))
	buildCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "go", "build", "-o", outputPath, ".")
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return compileOutcome{}, "", fmt.Errorf("go build failed: %w: %s", err, out)
	}

	return compileOutcome{SourcePath: srcPath}, outputPath, nil
}

// SmokeTest runs the compiled artifact with an empty payload and checks it
// exits cleanly, the last gate before Stage 6's hot-swap.
func (c *Compiler) SmokeTest(ctx context.Context, artifactPath string) error {
	if artifactPath == "" {
		return nil // interpreted skills have no binary to smoke test
	}
	smokeCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	cmd := exec.CommandContext(smokeCtx, artifactPath)
	cmd.Stdin = strings.NewReader(`{"input":{}}`)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("smoke test failed: %w: %s", err, out)
	}
	return nil
}

// eligibleForInterpretation reports whether code may run under the
// sandboxed interpreter rather than a compiled binary (spec.md §4.3): no
// filesystem, exec, or network primitives present.
func eligibleForInterpretation(code string) bool {
	forbidden := []string{"os.Open", "os.Create", "os.Remove", "exec.Command", "net.Dial", "net/http", "os/exec"}
	for _, f := range forbidden {
		if strings.Contains(code, f) {
			return false
		}
	}
	return true
}

func sanitizeModuleName(name string) string {
	return "forgepatch_" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
}
