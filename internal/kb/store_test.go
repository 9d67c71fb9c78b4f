package kb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codenerd/internal/errs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteThenReadSameBytes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(SlotTasks, "a", []byte("hello")))
	v, err := s.Read(SlotTasks, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestReadMissingKeyIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Read(SlotTasks, "missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestInvalidSlotRejected(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Read(SlotID(0), "a")
	require.Error(t, err)
	_, err = s.Read(SlotID(10), "a")
	require.Error(t, err)
}

func TestShadowLockedUntilUnlock(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Read(SlotShadow, "secret")
	require.Error(t, err)
	err = s.Write(SlotShadow, "secret", []byte("x"))
	require.Error(t, err)

	require.NoError(t, s.Unlock("correct-horse"))
	require.NoError(t, s.Write(SlotShadow, "secret", []byte("x")))
	v, err := s.Read(SlotShadow, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), v)
}

func TestUnlockRejectsWrongKeyAfterFirstUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Unlock("key-one"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	err = s2.Unlock("key-two")
	require.Error(t, err)
	require.NoError(t, s2.Unlock("key-one"))
}

func TestScanKeysLexicographicOrder(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"event/0003", "event/0001", "event/0002"} {
		require.NoError(t, s.Write(SlotAudit, k, []byte("{}")))
	}
	keys, err := s.ScanKeys(SlotAudit, "event/")
	require.NoError(t, err)
	assert.Equal(t, []string{"event/0001", "event/0002", "event/0003"}, keys)
}

func TestCrossSlotTransactionAtomic(t *testing.T) {
	s := openTestStore(t)
	err := s.WriteTx([]SlotID{SlotTasks, SlotTime}, func(tx *Tx) error {
		if err := tx.Put(SlotTasks, "thread-1", []byte("msg")); err != nil {
			return err
		}
		return tx.Put(SlotTime, "thread-1/last", []byte("123"))
	})
	require.NoError(t, err)

	v, err := s.Read(SlotTasks, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("msg"), v)
	v, err = s.Read(SlotTime, "thread-1/last")
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), v)
}

func TestTypedRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := Record{Version: 1, Content: []byte(`{"x":1}`), Metadata: map[string]any{"k": "v"}}
	require.NoError(t, s.WriteRecord(SlotTasks, "rec-1", rec))

	got, err := s.ReadRecord(SlotTasks, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
	assert.JSONEq(t, string(rec.Content), string(got.Content))
	assert.Equal(t, rec.Metadata["k"], got.Metadata["k"])
}

func TestBootstrapDefaultsDoesNotOverwrite(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(SlotIdentity, KeyUserProfile, []byte(`{"name":"kept"}`)))
	require.NoError(t, s.BootstrapDefaults())
	v, err := s.Read(SlotIdentity, KeyUserProfile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"kept"}`, string(v))
}

func TestAppendAndListEventsChronological(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendEvent(EventRecord{TimestampMS: 300, Component: "test", Message: "c"}))
	require.NoError(t, s.AppendEvent(EventRecord{TimestampMS: 100, Component: "test", Message: "a"}))
	require.NoError(t, s.AppendEvent(EventRecord{TimestampMS: 200, Component: "test", Message: "b"}))

	events, err := s.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Message)
	assert.Equal(t, "b", events[1].Message)
	assert.Equal(t, "c", events[2].Message)
}

func TestRecentAccessBounded(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(SlotTasks, "k", []byte("v")))
	for i := 0; i < 150; i++ {
		_, _ = s.Read(SlotTasks, "k")
	}
	assert.Len(t, s.RecentAccess(), 100)
}
