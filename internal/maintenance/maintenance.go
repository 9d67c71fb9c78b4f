// Package maintenance implements the Maintenance Loop (spec.md §4.5): a
// periodic Sovereign Self-Audit that discovers components on disk, checks
// for capability gaps, flags unprotected skills, computes a Sovereignty
// Score, and hands synthesizable fixes to the Forge. It is the only
// automated source of patch proposals.
package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"codenerd/internal/kb"
	"codenerd/internal/logging"
)

const (
	alignmentPenalty      = 0.5
	unprotectedSkillPenalty = 0.2
	capabilityGapPenalty  = 0.025
	highRiskThreshold     = 0.7
)

// CapabilityCheck names an optional collaborator and the environment
// variable whose absence counts as a capability gap.
type CapabilityCheck struct {
	Name   string
	EnvVar string
}

// CommandPrimitive/SecurityReference pairs name the source substrings the
// ethos validation scan looks for (spec.md §4.5 step 3): a file that
// contains any primitive but none of the references is "unprotected".
var (
	commandPrimitives  = []string{"exec.Command", "os/exec"}
	securityReferences = []string{"CanAccess", "RequireSecurityCheck", "ValidateSecurity", "Sovereignty Firewall"}
)

// Config configures one Loop instance.
type Config struct {
	// ScanRoots are read-only directory roots to walk for discovery and
	// ethos validation; a root containing ".." is skipped.
	ScanRoots []string
	// AlignmentFiles, if non-empty, are read and checked for the presence
	// of AlignmentTokens; any missing token fails the alignment heuristic.
	AlignmentFiles  []string
	AlignmentTokens []string
	Capabilities    []CapabilityCheck
	Period          time.Duration
	IdlenessWindow  time.Duration
}

// AuditResult is the outcome of one Sovereign Self-Audit tick.
type AuditResult struct {
	SovereigntyScore    float64
	AlignmentOK         bool
	CapabilityGaps      []string
	UnprotectedSkills   []string
	HighRisk            bool
	ReportSummary       string
	ProposalsHandedOff  []string
}

// ForgeHandoff is the narrow surface the Loop needs from the Forge to
// submit a synthesizable unprotected-skill fix; decoupled from a concrete
// forge.Pipeline import the same way the Pipeline itself decouples from
// controlplane via closures.
type ForgeHandoff interface {
	ProposeUnprotectedSkillFix(ctx context.Context, filePath string) (handed bool, err error)
}

// Loop runs periodic self-audits against Store and, optionally, hands
// synthesizable fixes to Forge.
type Loop struct {
	Store *kb.Store
	Forge ForgeHandoff
	Cfg   Config
	// LastActivity reports the timestamp (ms) of the most recent dispatch;
	// the Loop refuses to tick while now-LastActivity() < IdlenessWindow.
	LastActivity func() int64
	Now          func() int64
}

// Run blocks, ticking every Cfg.Period until ctx is done, skipping any
// tick that falls inside the idleness window measured from LastActivity.
// Nothing else holds a tick back: a dispatch still in flight once that
// window has passed does not. Errors from individual ticks are logged, not
// propagated, matching the teacher's tolerant periodic-task idiom.
func (l *Loop) Run(ctx context.Context) {
	logger := logging.For(logging.CategoryMaintenance).Sugar()
	period := l.Cfg.Period
	if period <= 0 {
		period = 5 * time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.idleEnough() {
				continue
			}
			if _, err := l.RunOnce(ctx); err != nil {
				logger.Warnw("self-audit tick failed", "error", err)
			}
		}
	}
}

func (l *Loop) idleEnough() bool {
	if l.LastActivity == nil || l.Now == nil {
		return true
	}
	window := l.Cfg.IdlenessWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	idleMS := l.Now() - l.LastActivity()
	return idleMS >= window.Milliseconds()
}

// RunOnce performs one full Sovereign Self-Audit: discovery, capability
// gaps, ethos validation, score, and (if below threshold) a high-risk
// audit entry and any synthesizable Forge hand-offs.
func (l *Loop) RunOnce(ctx context.Context) (*AuditResult, error) {
	logger := logging.For(logging.CategoryMaintenance).Sugar()
	nowMS := int64(0)
	if l.Now != nil {
		nowMS = l.Now()
	}

	unprotectedByRoot := make([][]string, len(l.Cfg.ScanRoots))

	// Step 1 + 3 fan out per root: read-only discovery plus ethos
	// validation scan, bounded by a single deadline (spec.md §4.5 /
	// SPEC_FULL §4.5 "errgroup to fan out the per-root directory scans").
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range l.Cfg.ScanRoots {
		i, root := i, root
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unprotected, err := scanRootForUnprotectedSkills(root)
			if err != nil {
				return err
			}
			unprotectedByRoot[i] = unprotected
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Step 2: capability gaps (configured env vars unset).
	var capabilityGaps []string
	for _, c := range l.Cfg.Capabilities {
		if strings.TrimSpace(os.Getenv(c.EnvVar)) == "" {
			capabilityGaps = append(capabilityGaps, c.Name+" unset")
			l.appendEvent(nowMS, "capability gap: "+c.Name+" unset ("+c.EnvVar+")", "capability_gap")
		}
	}
	var unprotected []string
	for _, u := range unprotectedByRoot {
		unprotected = append(unprotected, u...)
	}

	// Alignment heuristic: configured files must each contain every
	// configured token, mirroring the teacher's "key modules present" check.
	alignmentOK := l.checkAlignment()

	score := 1.0
	if !alignmentOK {
		score -= alignmentPenalty
	}
	score -= float64(len(unprotected)) * unprotectedSkillPenalty
	score -= float64(len(capabilityGaps)) * capabilityGapPenalty
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	highRisk := score < highRiskThreshold
	summary := reportSummary(score, highRisk, alignmentOK)

	if highRisk {
		l.appendEvent(nowMS, summary, "high_risk")
		logger.Warnw("sovereignty score below threshold", "score", score)
	} else {
		l.appendEvent(nowMS, summary, "success")
	}

	var handedOff []string
	if l.Forge != nil {
		for _, path := range unprotected {
			if !synthesizableFix(path) {
				continue
			}
			handed, err := l.Forge.ProposeUnprotectedSkillFix(ctx, path)
			if err != nil {
				logger.Warnw("forge hand-off failed", "path", path, "error", err)
				continue
			}
			if handed {
				handedOff = append(handedOff, path)
			}
		}
	}

	return &AuditResult{
		SovereigntyScore:   score,
		AlignmentOK:        alignmentOK,
		CapabilityGaps:     capabilityGaps,
		UnprotectedSkills:  unprotected,
		HighRisk:           highRisk,
		ReportSummary:      summary,
		ProposalsHandedOff: handedOff,
	}, nil
}

func (l *Loop) checkAlignment() bool {
	if len(l.Cfg.AlignmentFiles) == 0 {
		return true
	}
	for _, path := range l.Cfg.AlignmentFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		content := string(data)
		for _, tok := range l.Cfg.AlignmentTokens {
			if !strings.Contains(content, tok) {
				return false
			}
		}
	}
	return true
}

func (l *Loop) appendEvent(nowMS int64, message, outcome string) {
	if l.Store == nil {
		return
	}
	_ = l.Store.AppendEvent(kb.EventRecord{
		TimestampMS: nowMS,
		Component:   "maintenance",
		Message:     message,
		Outcome:     outcome,
	})
}

func reportSummary(score float64, highRisk bool, alignmentOK bool) string {
	switch {
	case !highRisk && alignmentOK && score > 0.9:
		return "sovereignty compliance OK"
	case highRisk:
		return "high risk: sovereignty score below threshold"
	default:
		return "sovereignty review recommended"
	}
}

// scanRootForUnprotectedSkills walks root (skipped if it contains "..")
// looking for .go files that contain a command-spawning primitive and no
// security-check reference anywhere in the file.
func scanRootForUnprotectedSkills(root string) ([]string, error) {
	if strings.Contains(root, "..") {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		content := string(data)
		hasCommand := containsAny(content, commandPrimitives)
		hasSecurity := containsAny(content, securityReferences)
		if hasCommand && !hasSecurity {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func containsAny(content string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(content, n) {
			return true
		}
	}
	return false
}

// synthesizableFix reports whether an unprotected-skill finding is the
// deterministic, source-level kind the Loop may hand to the Forge
// unattended: a single file, not one of the sovereignty-critical paths the
// original audit refuses to touch automatically.
func synthesizableFix(path string) bool {
	lower := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	if strings.Contains(lower, "governor") || strings.HasSuffix(lower, "main.go") {
		return false
	}
	return true
}
