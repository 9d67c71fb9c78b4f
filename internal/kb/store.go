// Package kb implements the Knowledge Store: nine independent namespaces
// ("slots"), numbered 1-9, each an ordered mapping from UTF-8 string key to
// opaque byte value.
//
// Schema (bbolt bucket layout):
//
//	/slot-1 .. /slot-9   one bucket per slot, keys unique within a bucket,
//	                     iteration order lexicographic (bbolt cursors walk
//	                     buckets in byte order natively).
//	/meta                created by Open; nothing in this package writes to it.
//
// Consistency model: bbolt serializes all writers process-wide, so a single
// *bbolt.Tx spanning several buckets gives the atomic cross-slot write the
// data model requires for free. WriteTx validates the slot ids it is given
// but does not order or restrict the buckets fn touches; bbolt's single
// writer mutex is what makes deadlock structurally impossible.
//
// Failure modes: NotFound (absent key or out-of-range slot), ShadowLocked
// (slot 9 before unlock), AtomicityViolation (any error returned inside a
// WriteTx transaction; nothing retries it), IOError (underlying file
// failure, and typed record marshal/unmarshal failure; there is no
// separate serialization kind).
package kb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"codenerd/internal/errs"
)

// SlotID identifies one of the nine namespaces, 1-indexed to match the spec.
type SlotID int

const (
	SlotIdentity      SlotID = 1
	SlotTasks         SlotID = 2
	SlotRelationships SlotID = 3
	SlotTime          SlotID = 4
	SlotSkills        SlotID = 5
	SlotPolicy        SlotID = 6
	SlotPhysical      SlotID = 7
	SlotAudit         SlotID = 8
	SlotShadow        SlotID = 9

	minSlot = 1
	maxSlot = 9
)

// Well-known keys with reserved cross-restart semantics (spec.md §4.1).
const (
	KeyUserProfile    = "user_profile"    // slot 1
	KeySkillManifest  = "skill_manifest"  // slot 5
	KeyEthosPolicy    = "ethos_policy"    // slot 6
	KeyTherapistFit   = "therapist_fit"   // slot 3, opaque to the core
)

func bucketName(s SlotID) []byte { return []byte(fmt.Sprintf("slot-%d", s)) }

const metaBucket = "meta"

func validSlot(s SlotID) error {
	if s < minSlot || s > maxSlot {
		return errs.Newf(errs.NotFound, "slot %d out of range 1..9", int(s))
	}
	return nil
}

// Store is the nine-slot embedded key-value store.
type Store struct {
	db     *bolt.DB
	shadow *shadowCipher // nil until unlocked
	access *accessLog
}

// Open opens (or creates) the store at path and ensures all nine slot
// buckets plus the meta bucket exist.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "open knowledge store")
	}
	s := &Store{db: bdb, access: newAccessLog(100)}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for i := minSlot; i <= maxSlot; i++ {
			if _, err := tx.CreateBucketIfNotExists(bucketName(SlotID(i))); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, errs.Wrap(errs.IOError, err, "initialize knowledge store buckets")
	}
	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Read returns the raw bytes at (slot, key), or NotFound if absent.
func (s *Store) Read(slot SlotID, key string) ([]byte, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	if slot == SlotShadow {
		return s.readShadow(key)
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName(slot)).Get([]byte(key))
		if v == nil {
			return errs.Newf(errs.NotFound, "slot %d key %q not found", int(slot), key)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	s.access.record(slot, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores raw bytes at (slot, key), overwriting any existing value.
func (s *Store) Write(slot SlotID, key string, value []byte) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	if slot == SlotShadow {
		return s.writeShadow(key, value)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(slot)).Put([]byte(key), value)
	})
}

// Delete removes (slot, key) if present; deleting an absent key is not an error.
func (s *Store) Delete(slot SlotID, key string) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	if slot == SlotShadow && !s.ShadowUnlocked() {
		return errs.New(errs.ShadowLocked, "shadow slot locked")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(slot)).Delete([]byte(key))
	})
}

// ScanKeys returns all keys in slot with the given prefix, lexicographically ordered.
func (s *Store) ScanKeys(slot SlotID, prefix string) ([]string, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	if slot == SlotShadow && !s.ShadowUnlocked() {
		return nil, errs.New(errs.ShadowLocked, "shadow slot locked")
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName(slot)).Cursor()
		bp := []byte(prefix)
		for k, _ := c.Seek(bp); k != nil && hasPrefix(k, bp); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "scan keys")
	}
	sort.Strings(keys)
	return keys, nil
}

// ScanPairs returns all key/value pairs in slot with the given prefix as a
// map, so the result carries no key order.
func (s *Store) ScanPairs(slot SlotID, prefix string) (map[string][]byte, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	if slot == SlotShadow && !s.ShadowUnlocked() {
		return nil, errs.New(errs.ShadowLocked, "shadow slot locked")
	}
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName(slot)).Cursor()
		bp := []byte(prefix)
		for k, v := c.Seek(bp); k != nil && hasPrefix(k, bp); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "scan pairs")
	}
	return out, nil
}

func hasPrefix(k, prefix []byte) bool { return strings.HasPrefix(string(k), string(prefix)) }

// WriteTx validates the given slot ids and runs fn inside a single write
// transaction, satisfying the cross-slot atomicity invariant: either every
// effect inside fn is committed, or none is. Any error fn returns is
// wrapped as AtomicityViolation.
func (s *Store) WriteTx(slots []SlotID, fn func(tx *Tx) error) error {
	sorted := append([]SlotID(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, sl := range sorted {
		if err := validSlot(sl); err != nil {
			return err
		}
	}
	err := s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
	if err != nil {
		return errs.Wrap(errs.AtomicityViolation, err, "cross-slot transaction failed")
	}
	return nil
}

// Tx is a handle into a single bbolt write transaction. Put and Get are not
// limited to the slots passed to WriteTx, and they bypass slot 9's shadow
// encryption.
type Tx struct{ btx *bolt.Tx }

func (t *Tx) Put(slot SlotID, key string, value []byte) error {
	return t.btx.Bucket(bucketName(slot)).Put([]byte(key), value)
}

func (t *Tx) Get(slot SlotID, key string) ([]byte, bool) {
	v := t.btx.Bucket(bucketName(slot)).Get([]byte(key))
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Record is the typed-record envelope: content payload plus a metadata tree.
type Record struct {
	Version  int            `json:"version"`
	Content  json.RawMessage `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WriteRecord serializes a typed Record and writes it to (slot, key).
func (s *Store) WriteRecord(slot SlotID, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "serialize record")
	}
	return s.Write(slot, key, data)
}

// ReadRecord reads and deserializes a typed Record from (slot, key).
func (s *Store) ReadRecord(slot SlotID, key string) (*Record, error) {
	data, err := s.Read(slot, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "deserialize record")
	}
	return &rec, nil
}

// BootstrapDefaults inserts default values for the well-known keys if they
// are absent. It must never overwrite a present value (spec.md §4.1).
func (s *Store) BootstrapDefaults() error {
	defaults := []struct {
		slot SlotID
		key  string
		val  []byte
	}{
		{SlotIdentity, KeyUserProfile, []byte(`{}`)},
		{SlotSkills, KeySkillManifest, []byte(`{}`)},
		{SlotPolicy, KeyEthosPolicy, []byte(`{"sensitive_substrings":[],"approval_required":false}`)},
		{SlotRelationships, KeyTherapistFit, []byte(`{}`)},
	}
	for _, d := range defaults {
		if _, err := s.Read(d.slot, d.key); err != nil {
			if errs.KindOf(err) == errs.NotFound {
				if werr := s.Write(d.slot, d.key, d.val); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
	}
	return nil
}
