// Package governor implements the Governor (spec.md §4.6): a long-running
// task that periodically scans the audit log and skills and publishes
// alerts on a buffered channel, optionally POSTing Critical alerts to a
// webhook, and owning the one-way Forge-safety
// enable switch. Grounded directly on
// original_source/add-ons/pagi-gateway/src/governor.rs.
package governor

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"codenerd/internal/kb"
	"codenerd/internal/logging"
)

// Severity classifies an Alert; only Critical ever triggers a webhook POST.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Kind names the alert taxonomy from spec.md §4.6's table.
type Kind string

const (
	KindHighAbsurdityCount Kind = "high_absurdity_count"
	KindEthosViolation     Kind = "ethos_violation"
	KindSkillAnomaly       Kind = "skill_anomaly"
	KindSlotReadAnomaly    Kind = "slot_read_anomaly"
	// KindVectorServiceOffline is part of the taxonomy table but never
	// emitted: the vector-search backend it would monitor is explicitly
	// out of scope (spec.md §1 Explicitly out of scope), so no check
	// populates it. Kept so the enum mirrors the spec's table exactly.
	KindVectorServiceOffline Kind = "vector_service_offline"
)

func (k Kind) Severity() Severity {
	switch k {
	case KindHighAbsurdityCount, KindEthosViolation:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Alert is one Governor finding.
type Alert struct {
	Kind        Kind
	Description string
	SkillName   string
	SlotID      int
	OccurredMS  int64
}

func (a Alert) Severity() Severity { return a.Kind.Severity() }

// WebhookPayload is the JSON body POSTed to Config.WebhookURL on Critical
// alerts (spec.md §4.6: `{ anomaly_description, sovereignty_score? }`).
type WebhookPayload struct {
	AnomalyDescription string   `json:"anomaly_description"`
	SovereigntyScore   *float64 `json:"sovereignty_score,omitempty"`
}

// SafetyPanel is the narrow surface the Governor needs from the control
// plane: a one-way enable switch it may call at any time, decoupling this
// package from a concrete controlplane import.
type SafetyPanel interface {
	EnableForgeSafety()
}

// Config configures one Governor.
type Config struct {
	CheckInterval         time.Duration
	MaxAbsurdityThreshold int
	WebhookURL            string
	WebhookTimeout        time.Duration
	WebhookRetries        int
}

func (c Config) interval() time.Duration {
	if c.CheckInterval <= 0 {
		return time.Minute
	}
	return c.CheckInterval
}

func (c Config) threshold() int {
	if c.MaxAbsurdityThreshold <= 0 {
		return 10
	}
	return c.MaxAbsurdityThreshold
}

func (c Config) webhookTimeout() time.Duration {
	if c.WebhookTimeout <= 0 {
		return 10 * time.Second
	}
	return c.WebhookTimeout
}

func (c Config) webhookRetries() int {
	if c.WebhookRetries <= 0 {
		return 3
	}
	return c.WebhookRetries
}

// Governor owns the alert loop. Alerts is buffered so Run's producer never
// blocks on a slow consumer; callers that care about alerts should drain
// it promptly.
type Governor struct {
	Store  *kb.Store
	Safety SafetyPanel
	Cfg    Config
	Now    func() int64

	Alerts chan Alert

	client    *http.Client
	scoreBits atomic.Uint64
}

// New constructs a Governor with a buffered alert channel.
func New(store *kb.Store, safety SafetyPanel, cfg Config, now func() int64) *Governor {
	return &Governor{
		Store:  store,
		Safety: safety,
		Cfg:    cfg,
		Now:    now,
		Alerts: make(chan Alert, 100),
		client: &http.Client{Timeout: cfg.webhookTimeout()},
	}
}

// SetSovereigntyScore records the Maintenance Loop's most recent
// Sovereignty Score for inclusion in webhook payloads; safe for concurrent
// use without a lock (stored as float64 bits in an atomic uint64, matching
// the teacher's AtomicU64 score-sharing pattern).
func (g *Governor) SetSovereigntyScore(score float64) {
	g.scoreBits.Store(math.Float64bits(score))
}

func (g *Governor) sovereigntyScore() *float64 {
	bitsVal := g.scoreBits.Load()
	if bitsVal == 0 {
		return nil
	}
	v := math.Float64frombits(bitsVal)
	return &v
}

// Run blocks, ticking every Cfg.CheckInterval until ctx is done.
func (g *Governor) Run(ctx context.Context) {
	logger := logging.For(logging.CategoryGovernor).Sugar()
	ticker := time.NewTicker(g.Cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.checkAbsurdityLog(ctx); err != nil {
				logger.Warnw("absurdity log check failed", "error", err)
			}
			if err := g.checkEthosAlignment(ctx); err != nil {
				logger.Warnw("ethos alignment check failed", "error", err)
			}
			g.checkSkillPatterns()
		}
	}
}

// checkAbsurdityLog flags KindHighAbsurdityCount when slot 8's event count
// exceeds the configured threshold. Every stored event is counted; events
// are not limited to a time window.
func (g *Governor) checkAbsurdityLog(ctx context.Context) error {
	events, err := g.Store.ListEvents()
	if err != nil {
		return err
	}
	if len(events) <= g.Cfg.threshold() {
		return nil
	}
	recent := events
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	var msgs []string
	for _, e := range recent {
		msgs = append(msgs, e.Message)
	}
	alert := Alert{
		Kind:        KindHighAbsurdityCount,
		Description: "high absurdity count (" + strconv.Itoa(len(events)) + "/" + strconv.Itoa(g.Cfg.threshold()) + "). recent: " + strings.Join(msgs, "; "),
		OccurredMS:  g.nowMS(),
	}
	g.raise(ctx, alert)
	return nil
}

// checkEthosAlignment scans recent audit entries for ethos-related keywords,
// the same heuristic the teacher's check_ethos_alignment applies.
func (g *Governor) checkEthosAlignment(ctx context.Context) error {
	events, err := g.Store.ListEvents()
	if err != nil {
		return err
	}
	recent := events
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, e := range recent {
		lower := strings.ToLower(e.Message)
		if strings.Contains(lower, "ethos") || strings.Contains(lower, "violation") || strings.Contains(lower, "boundary") {
			g.raise(ctx, Alert{
				Kind:        KindEthosViolation,
				Description: "potential ethos violation: " + e.Message,
				OccurredMS:  g.nowMS(),
			})
		}
	}
	return nil
}

// checkSkillPatterns is a placeholder: skill execution anomaly detection
// requires a duration-distribution baseline the core does not yet
// maintain. Mirrors the teacher's own check_skill_patterns, which is
// likewise unimplemented pending that baseline.
func (g *Governor) checkSkillPatterns() {}

func (g *Governor) nowMS() int64 {
	if g.Now != nil {
		return g.Now()
	}
	return 0
}

// raise logs the alert as an EventRecord, publishes it to Alerts, and — for
// Critical alerts — fires the webhook and enables Forge safety.
func (g *Governor) raise(ctx context.Context, alert Alert) {
	logger := logging.For(logging.CategoryGovernor).Sugar()

	if g.Store != nil {
		_ = g.Store.AppendEvent(kb.EventRecord{
			TimestampMS: alert.OccurredMS,
			Component:   "governor",
			Message:     alert.Description,
			Outcome:     string(alert.Severity()),
			Severity:    string(alert.Severity()),
		})
	}

	select {
	case g.Alerts <- alert:
	default:
		logger.Warnw("alert channel full, dropping alert", "kind", alert.Kind)
	}

	if alert.Severity() != SeverityCritical {
		return
	}

	if g.Safety != nil {
		g.Safety.EnableForgeSafety()
	}
	g.postWebhook(ctx, alert)
}

// postWebhook sends a Critical alert to Cfg.WebhookURL with bounded
// retry/backoff, never blocking the caller past the configured timeout
// budget. A configured-but-unreachable webhook never panics or escalates.
func (g *Governor) postWebhook(ctx context.Context, alert Alert) {
	if strings.TrimSpace(g.Cfg.WebhookURL) == "" {
		return
	}
	logger := logging.For(logging.CategoryGovernor).Sugar()

	payload := WebhookPayload{
		AnomalyDescription: alert.Description,
		SovereigntyScore:   g.sovereigntyScore(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Warnw("failed to marshal webhook payload", "error", err)
		return
	}

	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < g.Cfg.webhookRetries(); attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			logger.Warnw("failed to build webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				logger.Infow("webhook notification sent", "url", g.Cfg.WebhookURL)
				return
			}
			logger.Warnw("webhook returned non-2xx", "status", resp.StatusCode)
		} else {
			logger.Warnw("webhook POST failed", "error", err, "attempt", attempt)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

