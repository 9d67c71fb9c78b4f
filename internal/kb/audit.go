package kb

import (
	"encoding/json"
	"fmt"

	"codenerd/internal/errs"
)

// EventRecord is an append-only audit entry in slot 8, keyed so that
// lexicographic iteration yields chronological order.
type EventRecord struct {
	TimestampMS int64  `json:"timestamp_ms"`
	Component   string `json:"component"`
	Message     string `json:"message"`
	Outcome     string `json:"outcome,omitempty"`
	Skill       string `json:"skill,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// eventKey formats a zero-padded, 16-hex-digit timestamp key so that
// lexicographic byte order matches chronological order exactly, per
// spec.md §3.2 / §6.2.
func eventKey(timestampMS int64) string {
	return fmt.Sprintf("event/%016x", timestampMS)
}

// AppendEvent writes a new EventRecord to slot 8. Callers are responsible
// for ensuring TimestampMS is non-decreasing per producer (spec.md §5
// ordering guarantee); AppendEvent does not itself serialize producers.
func (s *Store) AppendEvent(rec EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "serialize event record")
	}
	return s.Write(SlotAudit, eventKey(rec.TimestampMS), data)
}

// ListEvents returns all EventRecords in chronological order. Useful for
// Maintenance Loop sampling and Governor scanning.
func (s *Store) ListEvents() ([]EventRecord, error) {
	pairs, err := s.ScanPairs(SlotAudit, "event/")
	if err != nil {
		return nil, err
	}
	keys, err := s.ScanKeys(SlotAudit, "event/")
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(keys))
	for _, k := range keys {
		var rec EventRecord
		if err := json.Unmarshal(pairs[k], &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
