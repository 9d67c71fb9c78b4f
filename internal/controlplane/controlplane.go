// Package controlplane owns the orchestrator's runtime flags (spec.md
// §3.7): the control-panel slot-enable mask, the skills-enabled flag, the
// dispatch mode byte, the Forge safety atomic, and the short/long-term
// memory-weight pair. All runtime flags are confined behind a single owner
// (the Orchestrator embeds a *Panel) with lock-free primitives for
// single-field flags and a reader-writer lock for the weight tuple; no
// skill may mutate these directly (spec.md §9 "Shared global state").
package controlplane

import (
	"sync"
	"sync/atomic"
)

// DispatchMode selects Dense (always the default reasoning path) or Sparse
// (keyword classifier picks one of three expert routes).
type DispatchMode int32

const (
	DispatchDense DispatchMode = iota
	DispatchSparse
)

// Weights is the (short_term, long_term) memory-scoring pair, each in [0,1].
type Weights struct {
	ShortTerm float64
	LongTerm  float64
}

// Panel holds the process-wide runtime flags.
type Panel struct {
	mask          uint32 // low 8 bits: enabled-slot mask (bit i enables slot i+1)
	skillsEnabled uint32 // 0/1
	dispatchMode  int32
	forgeSafety   uint32 // 0/1, Governor-writable, monotonic except explicit operator-disable

	weightsMu sync.RWMutex
	weights   Weights
}

// New constructs a Panel initialized from persisted defaults.
func New(mask uint8, skillsEnabled bool, mode DispatchMode, forgeSafety bool, weights Weights) *Panel {
	p := &Panel{weights: weights}
	atomic.StoreUint32(&p.mask, uint32(mask))
	p.SetSkillsEnabled(skillsEnabled)
	atomic.StoreInt32(&p.dispatchMode, int32(mode))
	p.SetForgeSafety(forgeSafety)
	return p
}

func (p *Panel) SlotEnabled(slotID int) bool {
	if slotID < 1 || slotID > 8 {
		return true // slot 9 is gated separately by the shadow lock, never by this mask
	}
	return atomic.LoadUint32(&p.mask)&(1<<uint(slotID-1)) != 0
}

func (p *Panel) SetSlotMask(mask uint8) { atomic.StoreUint32(&p.mask, uint32(mask)) }

func (p *Panel) SkillsEnabled() bool { return atomic.LoadUint32(&p.skillsEnabled) == 1 }

func (p *Panel) SetSkillsEnabled(v bool) {
	if v {
		atomic.StoreUint32(&p.skillsEnabled, 1)
	} else {
		atomic.StoreUint32(&p.skillsEnabled, 0)
	}
}

func (p *Panel) DispatchMode() DispatchMode {
	return DispatchMode(atomic.LoadInt32(&p.dispatchMode))
}

func (p *Panel) SetDispatchMode(m DispatchMode) { atomic.StoreInt32(&p.dispatchMode, int32(m)) }

func (p *Panel) ForgeSafetyOn() bool { return atomic.LoadUint32(&p.forgeSafety) == 1 }

func (p *Panel) SetForgeSafety(on bool) {
	if on {
		atomic.StoreUint32(&p.forgeSafety, 1)
	} else {
		atomic.StoreUint32(&p.forgeSafety, 0)
	}
}

// EnableForgeSafety is the Governor's one-way door: it may flip safety ON
// at any time regardless of prior value, and must never flip it OFF.
func (p *Panel) EnableForgeSafety() { p.SetForgeSafety(true) }

func (p *Panel) Weights() Weights {
	p.weightsMu.RLock()
	defer p.weightsMu.RUnlock()
	return p.weights
}

func (p *Panel) SetWeights(w Weights) {
	p.weightsMu.Lock()
	defer p.weightsMu.Unlock()
	p.weights = w
}

// Message is an in-process control message applied by the Orchestrator's
// background apply-loop in channel-send order.
type Message struct {
	SetSlotMask      *uint8
	SetSkillsEnabled *bool
	SetDispatchMode  *DispatchMode
	SetForgeSafety   *bool
	SetWeights       *Weights
}

// Apply applies a single message's fields, in a fixed order, without
// holding any lock across the whole application (each field setter takes
// its own short-lived synchronization).
func (p *Panel) Apply(msg Message) {
	if msg.SetSlotMask != nil {
		p.SetSlotMask(*msg.SetSlotMask)
	}
	if msg.SetSkillsEnabled != nil {
		p.SetSkillsEnabled(*msg.SetSkillsEnabled)
	}
	if msg.SetDispatchMode != nil {
		p.SetDispatchMode(*msg.SetDispatchMode)
	}
	if msg.SetForgeSafety != nil {
		p.SetForgeSafety(*msg.SetForgeSafety)
	}
	if msg.SetWeights != nil {
		p.SetWeights(*msg.SetWeights)
	}
}

// Run applies each message received on msgs until done is closed or msgs
// is closed; the caller owns both channels.
func (p *Panel) Run(msgs <-chan Message, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.Apply(msg)
		}
	}
}
