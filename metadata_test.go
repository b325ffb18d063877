package ptex

import (
	"bytes"
	"testing"
)

func TestMetaDataSetGetValue(t *testing.T) {
	m := newMetaData()
	m.SetValue("artist", MetaString, 5, []byte("alice"))
	m.SetValue("version", MetaInt32, 1, []byte{3, 0, 0, 0})

	v, err := m.GetValue("artist", nil)
	if err != nil {
		t.Fatalf("GetValue artist: %v", err)
	}
	if string(v) != "alice" {
		t.Errorf("artist: got %q want alice", v)
	}

	if m.NumKeys() != 2 {
		t.Errorf("NumKeys: got %d want 2", m.NumKeys())
	}
	keys := m.Keys()
	if keys[0] != "artist" || keys[1] != "version" {
		t.Errorf("Keys should preserve insertion order, got %v", keys)
	}
}

func TestMetaDataGetKeyByIndex(t *testing.T) {
	m := newMetaData()
	m.SetValue("a", MetaInt8, 1, []byte{1})
	m.SetValue("b", MetaFloat, 1, []byte{0, 0, 0, 0})

	k, typ, ok := m.GetKey(1)
	if !ok || k != "b" || typ != MetaFloat {
		t.Errorf("GetKey(1): got %q %v %v", k, typ, ok)
	}
	if _, _, ok := m.GetKey(2); ok {
		t.Errorf("GetKey out of range should report ok=false")
	}
	if _, _, ok := m.GetKey(-1); ok {
		t.Errorf("GetKey negative index should report ok=false")
	}
}

func TestMetaDataSetValueOverwritesWithoutDuplicatingOrder(t *testing.T) {
	m := newMetaData()
	m.SetValue("k", MetaInt8, 1, []byte{1})
	m.SetValue("k", MetaInt8, 1, []byte{2})
	if m.NumKeys() != 1 {
		t.Fatalf("expected overwrite to not grow key count, got %d", m.NumKeys())
	}
	v, _ := m.GetValue("k", nil)
	if len(v) != 1 || v[0] != 2 {
		t.Errorf("expected overwritten value 2, got %v", v)
	}
}

func TestMetaDataIsLargeAndFetch(t *testing.T) {
	m := newMetaData()
	m.set("big", MetaString, 8, nil, true, 100, 8)
	if !m.IsLarge("big") {
		t.Errorf("expected 'big' to be reported large before fetch")
	}

	fetchCalls := 0
	fetch := func(offset uint64, size uint32) ([]byte, error) {
		fetchCalls++
		if offset != 100 || size != 8 {
			t.Errorf("fetch called with unexpected offset/size: %d %d", offset, size)
		}
		return []byte("deadbeef"), nil
	}

	v, err := m.GetValue("big", fetch)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if string(v) != "deadbeef" {
		t.Errorf("got %q want deadbeef", v)
	}
	if m.IsLarge("big") {
		t.Errorf("expected IsLarge to report false once the value has been faulted in")
	}

	// A second GetValue should use the cached value, not call fetch again.
	if _, err := m.GetValue("big", fetch); err != nil {
		t.Fatalf("GetValue (cached): %v", err)
	}
	if fetchCalls != 1 {
		t.Errorf("expected fetch to be called exactly once, got %d", fetchCalls)
	}
}

func TestMetaDataGetValueLargeWithoutFetchErrors(t *testing.T) {
	m := newMetaData()
	m.set("big", MetaString, 8, nil, true, 0, 8)
	if _, err := m.GetValue("big", nil); err == nil {
		t.Errorf("expected an error when fetching a large value with no fetch function")
	}
}

func TestMetaDataSortedKeys(t *testing.T) {
	m := newMetaData()
	m.SetValue("zebra", MetaInt8, 1, []byte{0})
	m.SetValue("apple", MetaInt8, 1, []byte{0})
	m.SetValue("mango", MetaInt8, 1, []byte{0})
	got := m.SortedKeys()
	want := []string{"apple", "mango", "zebra"}
	for i, k := range want {
		if got[i] != k {
			t.Errorf("SortedKeys[%d]: got %q want %q", i, got[i], k)
		}
	}
}

func TestEncodeDecodeMetaEntriesSmallRoundTrip(t *testing.T) {
	m := newMetaData()
	m.SetValue("name", MetaString, 3, []byte("bob"))
	m.SetValue("count", MetaInt32, 1, []byte{7, 0, 0, 0})

	buf := encodeMetaEntries(m, false)

	out := newMetaData()
	if err := decodeMetaEntries(out, buf, false); err != nil {
		t.Fatalf("decodeMetaEntries: %v", err)
	}
	if out.NumKeys() != 2 {
		t.Fatalf("NumKeys: got %d want 2", out.NumKeys())
	}
	v, _ := out.GetValue("name", nil)
	if !bytes.Equal(v, []byte("bob")) {
		t.Errorf("name: got %v want bob", v)
	}
	v2, _ := out.GetValue("count", nil)
	if !bytes.Equal(v2, []byte{7, 0, 0, 0}) {
		t.Errorf("count: got %v", v2)
	}
}

func TestEncodeDecodeMetaEntriesLargeRoundTrip(t *testing.T) {
	m := newMetaData()
	m.set("blob", MetaString, 16, nil, true, 12345, 16)

	buf := encodeMetaEntries(m, true)

	out := newMetaData()
	if err := decodeMetaEntries(out, buf, true); err != nil {
		t.Fatalf("decodeMetaEntries: %v", err)
	}
	if !out.IsLarge("blob") {
		t.Fatalf("expected decoded entry to be large and unfetched")
	}
	fetched := false
	_, err := out.GetValue("blob", func(offset uint64, size uint32) ([]byte, error) {
		fetched = true
		if offset != 12345 || size != 16 {
			t.Errorf("unexpected offset/size: %d %d", offset, size)
		}
		return make([]byte, 16), nil
	})
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if !fetched {
		t.Errorf("expected fetch to be invoked for the large entry")
	}
}

func TestDecodeMetaEntriesTruncatedErrors(t *testing.T) {
	m := newMetaData()
	if err := decodeMetaEntries(m, []byte{1}, false); err == nil {
		t.Errorf("expected an error decoding a truncated key length")
	}
}

func TestEncodeMetaEntriesSeparatesSmallAndLarge(t *testing.T) {
	m := newMetaData()
	m.SetValue("small", MetaInt8, 1, []byte{9})
	m.set("large", MetaString, 4, nil, true, 0, 4)

	smallBuf := encodeMetaEntries(m, false)
	largeBuf := encodeMetaEntries(m, true)

	out := newMetaData()
	if err := decodeMetaEntries(out, smallBuf, false); err != nil {
		t.Fatalf("decode small: %v", err)
	}
	if err := decodeMetaEntries(out, largeBuf, true); err != nil {
		t.Fatalf("decode large: %v", err)
	}
	if out.NumKeys() != 2 {
		t.Fatalf("expected both entries present after decoding both sections, got %d", out.NumKeys())
	}
	if out.IsLarge("small") {
		t.Errorf("small entry should not be marked large")
	}
	if !out.IsLarge("large") {
		t.Errorf("large entry should be marked large")
	}
}
