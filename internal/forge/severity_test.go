package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical > SeverityHigh)
	assert.True(t, SeverityHigh > SeverityMedium)
	assert.True(t, SeverityMedium > SeverityLow)
	assert.True(t, SeverityLow > SeverityInfo)
}

func TestSeverityBlockingAndLethal(t *testing.T) {
	assert.False(t, SeverityMedium.IsBlocking())
	assert.True(t, SeverityHigh.IsBlocking())
	assert.True(t, SeverityCritical.IsBlocking())
	assert.False(t, SeverityHigh.IsLethal())
	assert.True(t, SeverityCritical.IsLethal())
}

func TestParseSeverityUnknownDefaultsInfo(t *testing.T) {
	assert.Equal(t, SeverityInfo, ParseSeverity("nonsense"))
	assert.Equal(t, SeverityCritical, ParseSeverity("CRITICAL"))
}

func TestConsensusGateCriticalRejectsAndMarksLethal(t *testing.T) {
	gate := ConsensusGate{AutoRejectHigh: true}
	v := FailedVerdict("model-a", []SecurityFinding{{Category: "Buffer Overflow", Severity: SeverityCritical}}, "critical", 0)
	res := gate.Evaluate(v)
	assert.False(t, res.Approved)
	assert.True(t, res.MarkLethal)
}

func TestConsensusGateHighRejectsWithoutLethal(t *testing.T) {
	gate := ConsensusGate{AutoRejectHigh: true}
	v := FailedVerdict("model-a", []SecurityFinding{{Category: "Hardcoded Secret", Severity: SeverityHigh}}, "high", 0)
	res := gate.Evaluate(v)
	assert.False(t, res.Approved)
	assert.False(t, res.MarkLethal)
}

func TestConsensusGateMediumPasses(t *testing.T) {
	gate := ConsensusGate{AutoRejectHigh: true}
	v := SecurityVerdict{
		OverallSeverity: SeverityMedium,
		Findings:        []SecurityFinding{{Category: "Panic in Production", Severity: SeverityMedium}},
		ReviewerModel:   "model-a",
		Passed:          true,
	}
	res := gate.Evaluate(v)
	assert.True(t, res.Approved)
	assert.False(t, res.MarkLethal)
}
