// Package region reads and writes Anvil region files (the r.<x>.<z>.mca
// format Minecraft stores chunks in). A region file is a 1024-entry location
// table, a matching timestamp table, and a sequence of sector-aligned,
// individually compressed chunk payloads; chunks too large to fit a
// single-byte sector count overflow into a sibling c.<x>.<z>.mcc file next
// to the region.
package region

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

const (
	sectorSize    = 4096
	headerSectors = 2
	chunksPerAxis = 32
	maxSectorByte = 0xFF

	compressionGzip = 1
	compressionZlib = 2
	compressionNone = 3
	compressionLZ4  = 4
	externalBit     = 128
)

var filenameRE = regexp.MustCompile(`^r\.(-?\d+)\.(-?\d+)\.mca$`)

// ChunkPos is a chunk's local position within its region, 0..31 on each axis.
type ChunkPos struct{ X, Z int }

// Chunk is a single decompressed chunk as read from a Region. External
// reports whether the payload was stored in a sibling .mcc file rather than
// inline in the region; callers that rewrite and write a chunk back need to
// pass this through so the write side can tell whether a stale .mcc sibling
// needs cleaning up.
type Chunk struct {
	X, Z      int
	Timestamp int32
	Data      []byte
	External  bool
}

// Region is a region file's location/timestamp tables and chunk data, held
// in memory for random-access read/write. It is not safe for concurrent use.
type Region struct {
	dir    string
	rx, rz int
	buf    []byte
}

// Open parses rx, rz out of path's filename and loads the region file at
// path into memory, padding it to a sector boundary if needed.
func Open(path string) (*Region, error) {
	rx, rz, err := parseRegionFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading region file")
	}
	if pad := sectorSize - len(raw)%sectorSize; pad != sectorSize {
		raw = append(raw, make([]byte, pad)...)
	}
	if len(raw) < headerSectors*sectorSize {
		return nil, fmt.Errorf("region file %s: invalid file size", path)
	}
	return &Region{dir: filepath.Dir(path), rx: rx, rz: rz, buf: raw}, nil
}

// New creates an empty region at (rx, rz). dir is where any overflowed
// chunks' sibling .mcc files will be written.
func New(dir string, rx, rz int) *Region {
	return &Region{
		dir: dir,
		rx:  rx,
		rz:  rz,
		buf: make([]byte, headerSectors*sectorSize),
	}
}

func parseRegionFilename(name string) (rx, rz int, err error) {
	m := filenameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, fmt.Errorf("%q is not a region filename (want r.<x>.<z>.mca)", name)
	}
	rx, _ = strconv.Atoi(m[1])
	rz, _ = strconv.Atoi(m[2])
	return rx, rz, nil
}

// RegionX returns the region's x coordinate, parsed from its filename.
func (r *Region) RegionX() int { return r.rx }

// RegionZ returns the region's z coordinate, parsed from its filename.
func (r *Region) RegionZ() int { return r.rz }

func localIndex(x, z int) int { return z*chunksPerAxis + x }

func (r *Region) locationEntry(idx int) uint32 {
	return beUint32(r.buf[idx*4 : idx*4+4])
}

func (r *Region) timestampEntry(idx int) int32 {
	return int32(beUint32(r.buf[sectorSize+idx*4 : sectorSize+idx*4+4]))
}

// Occupied lists every local chunk position with a non-empty location entry,
// in the same index order the region file stores them.
func (r *Region) Occupied() []ChunkPos {
	var out []ChunkPos
	for idx := 0; idx < chunksPerAxis*chunksPerAxis; idx++ {
		if r.locationEntry(idx) == 0 {
			continue
		}
		out = append(out, ChunkPos{X: idx % chunksPerAxis, Z: idx / chunksPerAxis})
	}
	return out
}

func (r *Region) externalPath(x, z int) string {
	gx := r.rx*chunksPerAxis + x
	gz := r.rz*chunksPerAxis + z
	return filepath.Join(r.dir, fmt.Sprintf("c.%d.%d.mcc", gx, gz))
}

// ReadChunk decodes the chunk at local position (x, z), following its
// sibling .mcc file if the region stores it externally. It returns
// (nil, nil) if the slot is empty.
func (r *Region) ReadChunk(x, z int) (*Chunk, error) {
	idx := localIndex(x, z)
	entry := r.locationEntry(idx)
	if entry == 0 {
		return nil, nil
	}
	timestamp := r.timestampEntry(idx)
	offset, sectorCount := entry>>8, entry&0xFF
	start := int(offset) * sectorSize
	if start+int(sectorCount)*sectorSize > len(r.buf) {
		return nil, fmt.Errorf("chunk (%d,%d): invalid sector count", x, z)
	}
	chunkLen := int(beUint32(r.buf[start : start+4]))
	tag := r.buf[start+4]

	if tag >= externalBit {
		data, err := r.readExternal(x, z, tag-externalBit)
		if err != nil {
			return nil, err
		}
		return &Chunk{X: x, Z: z, Timestamp: timestamp, Data: data, External: true}, nil
	}

	if start+4+chunkLen > len(r.buf) {
		return nil, fmt.Errorf("chunk (%d,%d): invalid chunk length", x, z)
	}
	payload := r.buf[start+5 : start+4+chunkLen]
	data, err := decompress(tag, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "chunk (%d,%d)", x, z)
	}
	return &Chunk{X: x, Z: z, Timestamp: timestamp, Data: data, External: false}, nil
}

func (r *Region) readExternal(x, z int, tag byte) ([]byte, error) {
	raw, err := os.ReadFile(r.externalPath(x, z))
	if err != nil {
		return nil, errors.Wrapf(err, "chunk (%d,%d): reading external chunk", x, z)
	}
	data, err := decompress(tag, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "chunk (%d,%d): external chunk", x, z)
	}
	return data, nil
}

// WriteChunk recompresses data with zlib and stores it at local position
// (x, z), appending to the in-memory buffer and updating the location and
// timestamp tables. external reports whether this chunk was external on the
// input side it was read from (Chunk.External) — the caller threads this
// through explicitly rather than this Region inferring it from its own
// state, since WriteChunk is typically called on a fresh output image that
// has no history of its own for this slot. If the compressed payload would
// need more than 255 sectors to store inline, it is relocated to an
// external .mcc file instead; conversely, a chunk that was external on input
// and now fits inline has its stale sibling file removed.
func (r *Region) WriteChunk(x, z int, data []byte, timestamp int32, external bool) error {
	idx := localIndex(x, z)

	compressed, err := compressZlib(data)
	if err != nil {
		return errors.Wrapf(err, "chunk (%d,%d)", x, z)
	}
	sectorCount := sectorsFor(4 + 1 + len(compressed))

	if sectorCount > maxSectorByte {
		if err := r.writeExternal(x, z, compressed); err != nil {
			return err
		}
		return r.appendStub(idx, timestamp, compressionZlib+externalBit)
	}

	if external {
		if err := os.Remove(r.externalPath(x, z)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "chunk (%d,%d): removing stale external chunk", x, z)
		}
	}
	return r.appendInline(idx, timestamp, compressionZlib, compressed)
}

func (r *Region) appendInline(idx int, timestamp int32, tag byte, compressed []byte) error {
	start := len(r.buf)
	payloadLen := uint32(len(compressed) + 1)
	r.buf = append(r.buf, make([]byte, 4)...)
	putBE32(r.buf[start:start+4], payloadLen)
	r.buf = append(r.buf, tag)
	r.buf = append(r.buf, compressed...)

	sectorCount := sectorsFor(len(r.buf) - start)
	r.pad(start, sectorCount)

	r.setLocation(idx, start/sectorSize, sectorCount)
	r.setTimestamp(idx, timestamp)
	return nil
}

// appendStub writes the 5-byte in-region stub Minecraft uses for externally
// stored chunks: a length of 1 and the compression tag with its high bit
// set. The sibling .mcc file holds the actual compressed payload.
func (r *Region) appendStub(idx int, timestamp int32, tag byte) error {
	start := len(r.buf)
	r.buf = append(r.buf, 0, 0, 0, 1, tag)
	r.pad(start, 1)
	r.setLocation(idx, start/sectorSize, 1)
	r.setTimestamp(idx, timestamp)
	return nil
}

func (r *Region) pad(start, sectorCount int) {
	want := start + sectorCount*sectorSize
	if pad := want - len(r.buf); pad > 0 {
		r.buf = append(r.buf, make([]byte, pad)...)
	}
}

func (r *Region) setLocation(idx, sectorOffset, sectorCount int) {
	putBE32(r.buf[idx*4:idx*4+4], uint32(sectorOffset)<<8|uint32(sectorCount&0xFF))
}

func (r *Region) setTimestamp(idx int, timestamp int32) {
	putBE32(r.buf[sectorSize+idx*4:sectorSize+idx*4+4], uint32(timestamp))
}

func (r *Region) writeExternal(x, z int, compressed []byte) error {
	path := r.externalPath(x, z)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return errors.Wrapf(err, "chunk (%d,%d): writing external chunk", x, z)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "chunk (%d,%d): renaming external chunk", x, z)
	}
	return nil
}

// Save writes the region atomically to path via a temp file and rename.
func (r *Region) Save(path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, r.buf, 0o644); err != nil {
		return errors.Wrap(err, "writing region file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "renaming region file")
	}
	return nil
}

func sectorsFor(n int) int { return (n + sectorSize - 1) / sectorSize }

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func decompress(tag byte, payload []byte) ([]byte, error) {
	switch tag {
	case compressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case compressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case compressionNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case compressionLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown compression type %d", tag)
	}
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
