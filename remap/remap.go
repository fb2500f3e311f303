// Package remap is the file-level driver: given a world-relative path, it
// decides how to interpret the file (region, gzip-wrapped NBT, raw NBT, or
// one of the plain-text formats) and rewrites every UUID inside it and in
// its own filename, using the other components for the actual decode work.
package remap

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwkimmel/mcuuidremap/log"
	"github.com/bwkimmel/mcuuidremap/nbt"
	"github.com/bwkimmel/mcuuidremap/region"
	"github.com/bwkimmel/mcuuidremap/text"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

var textExtensions = map[string]bool{
	"txt": true, "json": true, "json5": true,
	"properties": true, "toml": true, "yml": true, "yaml": true,
}

// Callback is invoked for every UUID File encounters across every encoding
// it rewrites. It returns the replacement UUID and true to rewrite the
// match, or (zero value, false) to leave it untouched.
type Callback func(uuid.UUID) (uuid.UUID, bool)

// File rewrites UUIDs in world/relPath's content, dispatching on its
// extension, and then renames it if its own filename contains a UUID the
// callback wants rewritten. It reports how many occurrences were rewritten.
func File(world, relPath string, cb Callback) (int, error) {
	full := filepath.Join(world, relPath)
	info, err := os.Stat(full)
	if err != nil {
		return 0, errors.Wrap(err, "stat")
	}
	if info.IsDir() {
		return 0, errors.Errorf("%s is a directory", relPath)
	}

	counter := &countingCallback{cb: cb}

	ext := strings.TrimPrefix(filepath.Ext(full), ".")
	switch {
	case ext == "mca":
		if err := remapRegion(full, counter.rewrite); err != nil {
			return counter.count, err
		}
	case ext == "dat":
		if err := remapDat(full, counter.rewrite); err != nil {
			return counter.count, err
		}
	case ext == "nbt":
		if err := remapNBT(full, counter.rewrite); err != nil {
			return counter.count, err
		}
	case textExtensions[ext]:
		if err := remapText(full, counter.rewrite); err != nil {
			return counter.count, err
		}
	default:
		log.Warnf("unsupported file type: %s", full)
		return 0, nil
	}

	newFull, err := renameIfNeeded(full, counter.rewrite)
	if err != nil {
		return counter.count, err
	}
	_ = newFull
	return counter.count, nil
}

// RequiresRemapping mirrors worldscan.RequiresRemapping's extension check;
// duplicated here (rather than imported) so this package has no dependency
// on the scheduler that calls it.
func RequiresRemapping(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch {
	case ext == "mca", ext == "dat", ext == "nbt", textExtensions[ext]:
		return true
	default:
		return false
	}
}

type countingCallback struct {
	cb    Callback
	count int
}

func (c *countingCallback) rewrite(id uuid.UUID) (uuid.UUID, bool) {
	to, ok := c.cb(id)
	if ok {
		c.count++
	}
	return to, ok
}

func remapRegion(path string, cb Callback) error {
	input, err := region.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening region %s", path)
	}
	// Rewritten chunks are written into a fresh region image rather than
	// back into input: WriteChunk only ever appends, so reusing input as
	// the output would leave every previous chunk's bytes behind as
	// unreferenced garbage and make the file grow on every run.
	output := region.New(filepath.Dir(path), input.RegionX(), input.RegionZ())
	for _, pos := range input.Occupied() {
		chunk, err := input.ReadChunk(pos.X, pos.Z)
		if err != nil {
			log.Errorf("skipping chunk (%d,%d) in %s: %v", pos.X, pos.Z, path, err)
			continue
		}
		if chunk == nil {
			continue
		}
		if err := nbt.Visit(chunk.Data, nbt.Rewrite(cb)); err != nil {
			log.Errorf("skipping chunk (%d,%d) in %s: %v", pos.X, pos.Z, path, err)
			continue
		}
		if err := output.WriteChunk(pos.X, pos.Z, chunk.Data, chunk.Timestamp, chunk.External); err != nil {
			return errors.Wrapf(err, "writing chunk (%d,%d) in %s", pos.X, pos.Z, path)
		}
	}
	return output.Save(path)
}

func remapDat(path string, cb Callback) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading dat file")
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		// Not gzip-wrapped: treat as a raw NBT document.
		if visitErr := nbt.Visit(raw, nbt.Rewrite(cb)); visitErr != nil {
			return errors.Wrap(visitErr, "visiting raw nbt")
		}
		return os.WriteFile(path, raw, 0o644)
	}
	uncompressed, err := io.ReadAll(gz)
	gz.Close()
	if err != nil {
		return errors.Wrap(err, "decompressing dat file")
	}
	if err := nbt.Visit(uncompressed, nbt.Rewrite(cb)); err != nil {
		return errors.Wrap(err, "visiting dat nbt")
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(uncompressed); err != nil {
		return errors.Wrap(err, "compressing dat file")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "compressing dat file")
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func remapNBT(path string, cb Callback) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading nbt file")
	}
	if err := nbt.Visit(raw, nbt.Rewrite(cb)); err != nil {
		return errors.Wrap(err, "visiting nbt")
	}
	return os.WriteFile(path, raw, 0o644)
}

func remapText(path string, cb Callback) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading text file")
	}
	text.Scan(raw, text.Rewrite(cb))
	return os.WriteFile(path, raw, 0o644)
}

// renameIfNeeded scans full's own filename for a UUID and, if cb wants it
// rewritten, renames the file in place. It returns the (possibly new) path.
func renameIfNeeded(full string, cb Callback) (string, error) {
	dir := filepath.Dir(full)
	name := []byte(filepath.Base(full))
	original := append([]byte(nil), name...)
	text.Scan(name, text.Rewrite(cb))
	if bytes.Equal(name, original) {
		return full, nil
	}
	newFull := filepath.Join(dir, string(name))
	if err := os.Rename(full, newFull); err != nil {
		return full, errors.Wrapf(err, "renaming %s", full)
	}
	return newFull, nil
}
