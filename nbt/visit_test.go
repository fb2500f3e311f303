package nbt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// --- minimal hand-rolled NBT builder, test-only ---

func putString(buf *bytes.Buffer, s string) {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func putLong(buf *bytes.Buffer, name string, v int64) {
	buf.WriteByte(tagLong)
	putString(buf, name)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func putIntArray(buf *bytes.Buffer, name string, vals []int32) {
	buf.WriteByte(tagIntArray)
	putString(buf, name)
	var countBytes [4]byte
	binary.BigEndian.PutUint32(countBytes[:], uint32(len(vals)))
	buf.Write(countBytes[:])
	for _, v := range vals {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
}

func putEnd(buf *bytes.Buffer) {
	buf.WriteByte(tagEnd)
}

func rootCompound() *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.WriteByte(tagCompound)
	putString(buf, "")
	return buf
}

func uuidToInt4(id uuid.UUID) [4]int32 {
	return [4]int32{
		int32(binary.BigEndian.Uint32(id[0:4])),
		int32(binary.BigEndian.Uint32(id[4:8])),
		int32(binary.BigEndian.Uint32(id[8:12])),
		int32(binary.BigEndian.Uint32(id[12:16])),
	}
}

func readIntArray(t *testing.T, buf []byte, offset int, count int) []int32 {
	t.Helper()
	vals := make([]int32, count)
	for i := 0; i < count; i++ {
		vals[i] = int32(binary.BigEndian.Uint32(buf[offset+i*4 : offset+i*4+4]))
	}
	return vals
}

func TestVisitSplitLongPairAndIntArray(t *testing.T) {
	from := uuid.MustParse("12345678-90ab-cdef-1234-567890abcdef")
	to := uuid.MustParse("abcdef12-3456-7890-abcd-ef1234567890")
	fromHigh := int64(binary.BigEndian.Uint64(from[0:8]))
	fromLow := int64(binary.BigEndian.Uint64(from[8:16]))

	buf := rootCompound()
	putLong(buf, "OwnerUUIDMost", fromHigh)
	putLong(buf, "OwnerUUIDLeast", fromLow)
	putIntArray(buf, "id", []int32{1, 2, 3, 4})
	fromAsInts := uuidToInt4(from)
	putIntArray(buf, "id1", fromAsInts[:])
	putLong(buf, "UUIDMost", fromHigh)
	putLong(buf, "UUIDLeast", fromLow)
	putEnd(buf)

	data := buf.Bytes()
	err := Visit(data, func(id uuid.UUID) (uuid.UUID, bool) {
		if id == from {
			return to, true
		}
		return uuid.UUID{}, false
	})
	require.NoError(t, err)

	// Re-scan the mutated buffer by hand to verify field values.
	idx := bytes.Index(data, []byte("OwnerUUIDMost"))
	require.NotEqual(t, -1, idx)
	mostOff := idx + len("OwnerUUIDMost")
	gotHigh := int64(binary.BigEndian.Uint64(data[mostOff : mostOff+8]))
	require.Equal(t, int64(binary.BigEndian.Uint64(to[0:8])), gotHigh)

	idx = bytes.Index(data, []byte("OwnerUUIDLeast"))
	require.NotEqual(t, -1, idx)
	leastOff := idx + len("OwnerUUIDLeast")
	gotLow := int64(binary.BigEndian.Uint64(data[leastOff : leastOff+8]))
	require.Equal(t, int64(binary.BigEndian.Uint64(to[8:16])), gotLow)

	idx = bytes.Index(data, []byte("\x00\x02id\x00\x00\x00\x04"))
	require.NotEqual(t, -1, idx, "id IntArray header should be untouched")
	idOff := idx + len("\x00\x02id\x00\x00\x00\x04")
	require.Equal(t, []int32{1, 2, 3, 4}, readIntArray(t, data, idOff, 4))

	idx = bytes.Index(data, []byte("\x00\x03id1\x00\x00\x00\x04"))
	require.NotEqual(t, -1, idx, "id1 IntArray header should be untouched")
	id1Off := idx + len("\x00\x03id1\x00\x00\x00\x04")
	toAsInts := uuidToInt4(to)
	require.Equal(t, []int32{toAsInts[0], toAsInts[1], toAsInts[2], toAsInts[3]}, readIntArray(t, data, id1Off, 4))
}

func TestVisitUnpairedHalvesUntouched(t *testing.T) {
	from := uuid.MustParse("12345678-90ab-cdef-1234-567890abcdef")
	fromHigh := int64(binary.BigEndian.Uint64(from[0:8]))
	fromLow := int64(binary.BigEndian.Uint64(from[8:16]))

	buf := rootCompound()
	putLong(buf, "xxUUIDMost", fromHigh)
	putLong(buf, "yyUUIDLeast", fromLow)
	putEnd(buf)

	orig := append([]byte(nil), buf.Bytes()...)
	data := buf.Bytes()
	err := Visit(data, func(uuid.UUID) (uuid.UUID, bool) {
		t.Fatal("rewrite should not be invoked for unpaired halves")
		return uuid.UUID{}, false
	})
	require.NoError(t, err)
	require.Equal(t, orig, data)
}

func TestVisitStringDelegatesToTextScanner(t *testing.T) {
	from := uuid.MustParse("2d318504-1a7b-39dc-8c18-44df798a5c06")
	to := uuid.MustParse("00000000-0000-0000-0000-000000000000")

	buf := rootCompound()
	buf.WriteByte(tagString)
	putString(buf, "uuid")
	putString(buf, from.String())
	putEnd(buf)

	data := buf.Bytes()
	err := Visit(data, func(id uuid.UUID) (uuid.UUID, bool) {
		if id == from {
			return to, true
		}
		return uuid.UUID{}, false
	})
	require.NoError(t, err)
	require.Contains(t, string(data), to.String())
}

func TestVisitNoneLeavesDocumentByteIdentical(t *testing.T) {
	from := uuid.MustParse("12345678-90ab-cdef-1234-567890abcdef")
	fromHigh := int64(binary.BigEndian.Uint64(from[0:8]))
	fromLow := int64(binary.BigEndian.Uint64(from[8:16]))

	buf := rootCompound()
	putLong(buf, "UUIDMost", fromHigh)
	putLong(buf, "UUIDLeast", fromLow)
	putIntArray(buf, "id", []int32{1, 2, 3, 4})
	putEnd(buf)

	orig := append([]byte(nil), buf.Bytes()...)
	data := buf.Bytes()
	require.NoError(t, Visit(data, func(uuid.UUID) (uuid.UUID, bool) { return uuid.UUID{}, false }))
	require.Equal(t, orig, data)
}

func TestVisitMalformedCases(t *testing.T) {
	noop := func(uuid.UUID) (uuid.UUID, bool) { return uuid.UUID{}, false }

	cases := map[string][]byte{
		"empty buffer":            {},
		"string length overruns":  {tagCompound, 0, 0, tagString, 0, 1, 'x', 0, 30},
		"list count overruns A":   {tagCompound, 0, 0, tagList, 0, 0, 0, 255, 255, 255, 255},
		"list count overruns B":   {tagCompound, 0, 0, tagList, 0, 0, 1, 255, 255, 255, 255},
		"unknown tag":             {tagCompound, 0, 0, 255, 0, 0},
		"trailing data after end": {tagCompound, 0, 0, tagEnd, 0, 0, 0, 0},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			buf := append([]byte(nil), data...)
			require.Error(t, Visit(buf, noop))
		})
	}
}
