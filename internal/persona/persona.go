// Package persona assembles the system directive passed to skills that
// consult a reasoning service: a deterministic, fixed-order string join
// (spec.md §4.8). The Archetype Overlay is treated as opaque configuration,
// never as part of the reasoning model itself (spec.md §1).
package persona

import (
	"sort"
	"strings"
)

// Mode selects the mode-specific preamble.
type Mode string

const (
	ModeCounselor Mode = "counselor"
	ModeCompanion Mode = "companion"
)

// EmotionalOverride names a detected emotional state that forces a
// cold-logic instruction.
type EmotionalOverride string

const (
	EmotionNone  EmotionalOverride = ""
	EmotionGuilt EmotionalOverride = "guilt"
	EmotionGrief EmotionalOverride = "grief"
)

// Archetypes is the fixed ~7-entry enumeration of overlay text, keyed by
// name. Populated from configuration, never computed by the core.
type Archetypes map[string]string

// Input is everything Assemble needs to build one directive.
type Input struct {
	EthosChecklist   string // fetched from slot 6, well-known key
	Archetype        string // selected name, resolved against Archetypes
	Archetypes       Archetypes
	IdentityStatement string
	Mode             Mode
	BiographicalHints string // optional, from slot 1
	Emotional        EmotionalOverride
	HumanityRatio    *float64 // 0.0 = dry/technical, 1.0 = warm/expressive
}

const sovereignVoiceAppendix = "You act with sovereign judgment: your reasoning is your own, and your word is binding within the scope granted to you."

// Assemble composes the system directive as a deterministic, fixed-order
// string join over the eight parts named in spec.md §4.8.
func Assemble(in Input) string {
	var parts []string

	if in.EthosChecklist != "" {
		parts = append(parts, in.EthosChecklist)
	}

	if overlay, ok := in.Archetypes[in.Archetype]; ok && overlay != "" {
		parts = append(parts, overlay)
	}

	if in.IdentityStatement != "" {
		parts = append(parts, in.IdentityStatement)
	}

	switch in.Mode {
	case ModeCounselor:
		parts = append(parts, "Operate as Counselor: prioritize clarity, safety, and structured guidance.")
	case ModeCompanion:
		parts = append(parts, "Operate as Companion: prioritize warmth, continuity, and rapport.")
	}

	if in.BiographicalHints != "" {
		parts = append(parts, in.BiographicalHints)
	}

	switch in.Emotional {
	case EmotionGuilt, EmotionGrief:
		parts = append(parts, "Emotional override engaged: respond with cold-logic precision, setting tone aside.")
	}

	if in.HumanityRatio != nil {
		parts = append(parts, humanityInstruction(*in.HumanityRatio))
	}

	parts = append(parts, sovereignVoiceAppendix)

	return strings.Join(parts, "\n\n")
}

func humanityInstruction(ratio float64) string {
	if ratio <= 0 {
		return "Calibrate tone: dry, technical, minimal affect."
	}
	if ratio >= 1 {
		return "Calibrate tone: warm, expressive, emotionally present."
	}
	return "Calibrate tone: blend technical precision with measured warmth."
}

// ClassifyArchetype is a deterministic keyword classifier over user input,
// selecting one of the enumeration's names. It never calls a reasoning
// service — classification is pure function of text, satisfying spec.md
// §8's idempotence property directly.
func ClassifyArchetype(input string, archetypes Archetypes, fallback string) string {
	lower := strings.ToLower(input)

	names := make([]string, 0, len(archetypes))
	for name := range archetypes {
		names = append(names, name)
	}
	sort.Strings(names) // fixed, deterministic tie-break order regardless of map iteration

	best := fallback
	bestLen := -1
	for _, name := range names {
		if strings.Contains(lower, strings.ToLower(name)) && len(name) > bestLen {
			best = name
			bestLen = len(name)
		}
	}
	return best
}
