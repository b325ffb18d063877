package ptex

import (
	"encoding/binary"
	"sort"
)

// MetaData is the key/value sidecar store attached to a texture file
// (spec.md section 3/4.4): small values are loaded eagerly with the rest
// of the header; a value above smallMetaDataLimit is promoted to the
// "large metadata" section, which stays uncompressed-but-unread on the
// file until a caller actually asks for it by key (the lazy-fetch model
// named in SPEC_FULL.md's DOMAIN STACK notes).
type MetaData struct {
	entries map[string]*metaEntry
	order   []string // insertion order, for Keys()/NumKeys() stability
}

type metaEntry struct {
	typ   MetaDataType
	count int
	// value holds the decoded payload once loaded; for a large entry this
	// is nil until LargeValue is called.
	value  []byte
	large  bool
	offset uint64 // byte offset into the large-metadata section, large entries only
	size   uint32 // encoded byte length within the large-metadata section
}

// smallMetaDataLimit is the per-entry byte threshold above which a value
// is stored in the large-metadata section instead of inline (PtexIO.h
// documents large metadata as existing precisely so that enormous
// per-entry blobs, e.g. embedded proxies, don't force every reader to pay
// for their decompression just to open the file).
const smallMetaDataLimit = 64 * 1024

func newMetaData() *MetaData {
	return &MetaData{entries: make(map[string]*metaEntry)}
}

// NumKeys returns the number of distinct metadata keys.
func (m *MetaData) NumKeys() int { return len(m.order) }

// Keys returns all metadata keys in the order they were added.
func (m *MetaData) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// GetKey returns the i'th key added, matching PtexMetaData::getKey's
// index-based accessor.
func (m *MetaData) GetKey(i int) (string, MetaDataType, bool) {
	if i < 0 || i >= len(m.order) {
		return "", 0, false
	}
	k := m.order[i]
	return k, m.entries[k].typ, true
}

// IsLarge reports whether key's value lives in the large-metadata section
// and has not yet been faulted in.
func (m *MetaData) IsLarge(key string) bool {
	e, ok := m.entries[key]
	return ok && e.large && e.value == nil
}

// SetValue adds or replaces a metadata entry with an inline value
// (spec.md section 6, Writer.writeMeta/MetaData.setValue). Values larger
// than smallMetaDataLimit are automatically promoted to the large section
// by the writer when the file is serialized, not by SetValue itself.
func (m *MetaData) SetValue(key string, typ MetaDataType, count int, value []byte) {
	m.set(key, typ, count, append([]byte(nil), value...), false, 0, 0)
}

func (m *MetaData) set(key string, typ MetaDataType, count int, value []byte, large bool, offset uint64, size uint32) {
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = &metaEntry{typ: typ, count: count, value: value, large: large, offset: offset, size: size}
}

// GetValue returns the raw decoded bytes for key. If the entry is a large,
// not-yet-loaded entry, fetch must have been supplied (by Reader, which
// knows how to seek/decompress the large-metadata section); Reader wires
// this in when constructing the MetaData it hands back from GetMetaData.
func (m *MetaData) GetValue(key string, fetch func(offset uint64, size uint32) ([]byte, error)) ([]byte, error) {
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if e.value != nil || !e.large {
		return e.value, nil
	}
	if fetch == nil {
		return nil, newError(KindOutOfRange, "", "large metadata value requires an open reader")
	}
	v, err := fetch(e.offset, e.size)
	if err != nil {
		return nil, err
	}
	e.value = v
	return v, nil
}

// SortedKeys returns Keys() sorted lexically, convenient for deterministic
// iteration in tests and edit-record enumeration.
func (m *MetaData) SortedKeys() []string {
	out := m.Keys()
	sort.Strings(out)
	return out
}

// metaDataEntryHeaderSize is the on-disk per-entry header: a uint16 key
// length prefix, the key bytes, a type byte, a uint32 element count, then
// either the inline value bytes or (for entries promoted to the large
// section) a uint64 offset + uint32 size pair in place of inline data.
// The entry encoding/decoding (encodeMetaEntries/decodeMetaEntries) lives
// in this file with the in-memory model; the zlib stream handling around
// it lives in reader.go/writer.go.
const metaDataEntryHeaderSize = 2 + 1 + 4

// elemSize returns the on-disk byte width of one element of t, or 1 for
// MetaString (whose "elements" are raw bytes of the string itself).
func (t MetaDataType) elemSize() int {
	switch t {
	case MetaString, MetaInt8:
		return 1
	case MetaInt16:
		return 2
	case MetaInt32, MetaFloat:
		return 4
	case MetaDouble:
		return 8
	default:
		return 1
	}
}

// encodeMetaEntries serializes every non-large entry of m (small section)
// or every large entry (large-metadata header section, isLarge=true) into
// its on-disk byte form, in insertion order.
func encodeMetaEntries(m *MetaData, isLarge bool) []byte {
	var buf []byte
	for _, key := range m.order {
		e := m.entries[key]
		if e.large != isLarge {
			continue
		}
		head := make([]byte, 2+len(key)+1+4)
		binary.LittleEndian.PutUint16(head[0:2], uint16(len(key)))
		copy(head[2:2+len(key)], key)
		head[2+len(key)] = byte(e.typ)
		binary.LittleEndian.PutUint32(head[3+len(key):7+len(key)], uint32(e.count))
		buf = append(buf, head...)
		if isLarge {
			tail := make([]byte, 12)
			binary.LittleEndian.PutUint64(tail[0:8], e.offset)
			binary.LittleEndian.PutUint32(tail[8:12], e.size)
			buf = append(buf, tail...)
		} else {
			buf = append(buf, e.value...)
		}
	}
	return buf
}

// decodeMetaEntries parses raw (the decompressed small-metadata section,
// or the decompressed large-metadata header section) and adds its
// entries to m.
func decodeMetaEntries(m *MetaData, raw []byte, isLarge bool) error {
	pos := 0
	for pos < len(raw) {
		if pos+2 > len(raw) {
			return newError(KindTruncatedOrCorrupt, "", "short metadata key length")
		}
		klen := int(binary.LittleEndian.Uint16(raw[pos : pos+2]))
		pos += 2
		if pos+klen+1+4 > len(raw) {
			return newError(KindTruncatedOrCorrupt, "", "short metadata entry header")
		}
		key := string(raw[pos : pos+klen])
		pos += klen
		typ := MetaDataType(raw[pos])
		pos++
		count := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		if isLarge {
			if pos+12 > len(raw) {
				return newError(KindTruncatedOrCorrupt, "", "short large metadata entry")
			}
			offset := binary.LittleEndian.Uint64(raw[pos : pos+8])
			size := binary.LittleEndian.Uint32(raw[pos+8 : pos+12])
			pos += 12
			m.set(key, typ, count, nil, true, offset, size)
		} else {
			vlen := count * typ.elemSize()
			if pos+vlen > len(raw) {
				return newError(KindTruncatedOrCorrupt, "", "short metadata value")
			}
			value := append([]byte(nil), raw[pos:pos+vlen]...)
			pos += vlen
			m.set(key, typ, count, value, false, 0, 0)
		}
	}
	return nil
}
