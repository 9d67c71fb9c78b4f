package controlplane

import "testing"

func TestSlotEnabledMaskBits(t *testing.T) {
	p := New(0x00, true, DispatchDense, true, Weights{})
	if p.SlotEnabled(1) {
		t.Fatal("slot 1 should be disabled by zero mask")
	}
	p.SetSlotMask(0x01)
	if !p.SlotEnabled(1) {
		t.Fatal("bit 0 should enable slot 1")
	}
	if p.SlotEnabled(2) {
		t.Fatal("slot 2 should remain disabled")
	}
}

func TestSlot9NeverGatedByMask(t *testing.T) {
	p := New(0x00, true, DispatchDense, true, Weights{})
	if !p.SlotEnabled(9) {
		t.Fatal("slot 9 must not be gated by the 8-bit control-panel mask")
	}
}

func TestForgeSafetyMonotonicByGovernor(t *testing.T) {
	p := New(0xFF, true, DispatchDense, false, Weights{})
	p.EnableForgeSafety()
	if !p.ForgeSafetyOn() {
		t.Fatal("governor enable must take effect")
	}
}

func TestApplyFullStateTwiceIdempotent(t *testing.T) {
	p := New(0x00, false, DispatchDense, false, Weights{})
	mask := uint8(0xFF)
	enabled := true
	mode := DispatchSparse
	safety := true
	weights := Weights{ShortTerm: 0.3, LongTerm: 0.7}
	msg := Message{SetSlotMask: &mask, SetSkillsEnabled: &enabled, SetDispatchMode: &mode, SetForgeSafety: &safety, SetWeights: &weights}

	p.Apply(msg)
	first := snapshot(p)
	p.Apply(msg)
	second := snapshot(p)

	if first != second {
		t.Fatalf("applying the same FullState message twice must be idempotent: %+v vs %+v", first, second)
	}
}

type panelSnapshot struct {
	mask    uint32
	enabled bool
	mode    DispatchMode
	safety  bool
	weights Weights
}

func snapshot(p *Panel) panelSnapshot {
	return panelSnapshot{
		mask:    p.mask,
		enabled: p.SkillsEnabled(),
		mode:    p.DispatchMode(),
		safety:  p.ForgeSafetyOn(),
		weights: p.Weights(),
	}
}
