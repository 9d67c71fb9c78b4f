package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/controlplane"
	"codenerd/internal/forge"
	"codenerd/internal/governor"
	"codenerd/internal/kb"
	"codenerd/internal/logging"
	"codenerd/internal/maintenance"
	"codenerd/internal/orchestrator"
	"codenerd/internal/registry"
	"codenerd/internal/rollback"
	"codenerd/internal/skill"
)

// App is the fully-wired composition root: every component SPEC_FULL.md
// names, built from one config.Config. Dependency order follows the
// teacher's own layering (leaves first): Knowledge Store, Registry,
// Control Plane, Rollback + Genetic Memory, Forge, Orchestrator,
// Maintenance Loop, Governor.
type App struct {
	Config      *config.Config
	Store       *kb.Store
	Panel       *controlplane.Panel
	Registry    *registry.Registry
	Blueprints  *skill.BlueprintRegistry
	Dispatcher  *orchestrator.Dispatcher
	GenMem      *forge.GeneticMemory
	Rollback    *rollback.Manager
	Forge       *forge.Pipeline
	Maintenance *maintenance.Loop
	Governor    *governor.Governor
}

// forgeHandoffAdapter implements maintenance.ForgeHandoff: it synthesizes
// the one deterministic source-level fix spec.md §4.5 step 5 allows (a
// security-check reference marker inserted after the package clause,
// satisfying the Ethos validation scan on the next tick) and, only when
// the flagged file corresponds to an already-registered skill name, routes
// it through the real Forge pipeline so the fix is reviewed and hot-swapped
// like any other patch. A flagged file with no matching registered skill
// has no hot-swap target, so it is reported as not synthesizable.
type forgeHandoffAdapter struct {
	pipeline *forge.Pipeline
	registry *registry.Registry
	nowMS    func() int64
}

func (a *forgeHandoffAdapter) ProposeUnprotectedSkillFix(ctx context.Context, path string) (bool, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".go")
	tier, ok := a.registry.Tier(name)
	if !ok {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	patched := insertSecurityCheckMarker(string(data))
	if patched == string(data) {
		return false, nil
	}
	res, err := a.pipeline.Run(ctx, forge.Proposal{
		SkillName:   name,
		Description: "maintenance loop: insert security-check reference for unprotected command-spawning skill",
		Code:        patched,
		Tier:        tier,
	}, a.nowMS)
	if err != nil {
		return false, err
	}
	return res.Approved, nil
}

// insertSecurityCheckMarker inserts a recognized security-reference marker
// immediately after the first line (the package clause) so the Maintenance
// Loop's own ethos-validation scan (internal/maintenance) no longer flags
// the file on its next tick.
func insertSecurityCheckMarker(src string) string {
	const marker = "// ValidateSecurity: command execution reviewed for injection risk (maintenance loop insertion)\n"
	if strings.Contains(src, "ValidateSecurity") {
		return src
	}
	idx := strings.Index(src, "\n")
	if idx < 0 {
		return src
	}
	return src[:idx+1] + marker + src[idx+1:]
}

// buildApp wires every component from cfg. The returned App owns all
// background-loop dependencies; callers start loops explicitly (serveCmd)
// so that one-shot commands (dispatchCmd, forge status) can reuse the same
// wiring without spinning up periodic tasks.
func buildApp(cfg *config.Config) (*App, error) {
	store, err := kb.Open(filepath.Join(cfg.WorkspaceRoot, "knowledge.db"))
	if err != nil {
		return nil, err
	}
	if err := store.BootstrapDefaults(); err != nil {
		return nil, err
	}
	if cfg.ShadowKey != "" {
		if err := store.Unlock(cfg.ShadowKey); err != nil {
			logging.For(logging.CategoryCLI).Sugar().Warnw("shadow slot unlock failed", "error", err)
		}
	}

	panel := controlplane.New(0xFF, true, controlplane.DispatchDense, cfg.SafetyEnabled, controlplane.Weights{ShortTerm: 0.5, LongTerm: 0.5})

	reg := registry.New()
	blueprints := skill.NewBlueprintRegistry()

	dispatcher := &orchestrator.Dispatcher{
		Store:      store,
		Registry:   reg,
		Panel:      panel,
		Blueprints: blueprints,
		StrictMode: cfg.StrictManifestMode,
	}

	forgeDir := filepath.Join(cfg.WorkspaceRoot, "forge")
	genmem, err := forge.NewGeneticMemory(forgeDir)
	if err != nil {
		return nil, err
	}
	rb := rollback.NewManager(genmem)

	reviewer := forge.NewReviewer(forge.ReviewerConfig{
		Model:          cfg.Reviewer.Model,
		APIURL:         cfg.Reviewer.APIURL,
		APIKey:         apiKey,
		AutoRejectHigh: cfg.AutoRejectHigh,
		Timeout:        cfg.ReasonerTimeout(cfg.Reviewer),
	})

	pipeline := &forge.Pipeline{
		GenMem:   genmem,
		Gate:     forge.ApprovalGate{AutoApprove: !cfg.SafetyEnabled},
		Reviewer: reviewer,
		Rollback: rb,
		Registry: reg,
		Compiler: &forge.Compiler{
			SourceDir:   filepath.Join(forgeDir, "patches"),
			ArtifactDir: filepath.Join(forgeDir, "artifacts"),
			Timeout:     cfg.CompileWindow(),
		},
		SafetyOn:  panel.ForgeSafetyOn,
		SetSafety: panel.SetForgeSafety,
	}

	maintLoop := &maintenance.Loop{
		Store: store,
		Forge: &forgeHandoffAdapter{pipeline: pipeline, registry: reg, nowMS: func() int64 { return time.Now().UnixMilli() }},
		Cfg: maintenance.Config{
			ScanRoots:      []string{filepath.Join(cfg.WorkspaceRoot, "skills")},
			Period:         cfg.MaintenanceInterval(),
			IdlenessWindow: cfg.IdlenessWindow(),
			Capabilities: []maintenance.CapabilityCheck{
				{Name: "reviewer reasoner endpoint", EnvVar: "ORCHESTRATOR_REVIEWER_MODEL"},
			},
		},
		Now: func() int64 { return time.Now().UnixMilli() },
	}

	gov := governor.New(store, panel, governor.Config{
		WebhookURL: cfg.WebhookURL,
	}, func() int64 { return time.Now().UnixMilli() })

	return &App{
		Config:      cfg,
		Store:       store,
		Panel:       panel,
		Registry:    reg,
		Blueprints:  blueprints,
		Dispatcher:  dispatcher,
		GenMem:      genmem,
		Rollback:    rb,
		Forge:       pipeline,
		Maintenance: maintLoop,
		Governor:    gov,
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// loadConfig reads configPath (falling back to defaults), then applies the
// --workspace flag on top of whatever the file set, matching the teacher's
// flag-overrides-file-overrides-default precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.WorkspaceRoot = workspace
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}
