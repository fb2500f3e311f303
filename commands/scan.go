package commands

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bwkimmel/mcuuidremap/region"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

var (
	dashedUUIDRE   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	dashlessUUIDRE = regexp.MustCompile(`[0-9a-fA-F]{32}`)
)

// Scan implements the scan command: a read-only diagnostic that reports
// every UUID occurrence found in a world's region files (overworld, nether
// and end), across all three encodings, by decoding each chunk's NBT into a
// tree with gophertunnel rather than mutating it in place. Other files
// (.dat, .nbt, text files) and filenames are not scanned. It exists so a user can inspect a world's UUID
// occurrences before committing to a Remap run.
type Scan struct {
	world  string
	output string
	csv    *csv.Writer
}

func (*Scan) Name() string { return "scan" }

func (*Scan) Synopsis() string { return "Report every UUID occurrence found in a Minecraft world." }

func (*Scan) Usage() string {
	return `scan [<flags>...] <world>
Report every UUID occurrence found in a Minecraft world, without modifying it.

Walks the Minecraft world located in the directory <world> (the directory
containing level.dat) and writes one CSV row per UUID occurrence found,
across region files' chunk NBT (IntArray, split-long, and textual forms).
Columns: dimension, chunk_x, chunk_z, nbt_path, uuid.

`
}

func (s *Scan) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "output", "", "File to write results to (if empty, results are written to stdout)")
}

func (s *Scan) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "<world> is required.")
		return subcommands.ExitUsageError
	}
	if f.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Extra positional arguments found.")
		return subcommands.ExitUsageError
	}
	s.world = f.Arg(0)

	w := os.Stdout
	if s.output != "" {
		out, err := os.Create(s.output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open file %q for writing: %v\n", s.output, err)
			return subcommands.ExitFailure
		}
		defer out.Close()
		w = out
	}
	s.csv = csv.NewWriter(w)
	s.csv.Write([]string{"dimension", "chunk_x", "chunk_z", "nbt_path", "uuid"})

	if err := s.readWorld(s.world); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read world: %v\n", err)
		return subcommands.ExitFailure
	}
	s.csv.Flush()
	return subcommands.ExitSuccess
}

func (s *Scan) readWorld(path string) error {
	if err := s.readDimension(0, filepath.Join(path, "region")); err != nil {
		return err
	}
	if err := s.readDimension(-1, filepath.Join(path, "DIM-1", "region")); err != nil {
		return err
	}
	if err := s.readDimension(1, filepath.Join(path, "DIM1", "region")); err != nil {
		return err
	}
	return nil
}

func (s *Scan) readDimension(dim int, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read contents of directory %q: %v", path, err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".mca") {
			continue
		}
		var x, z int
		regionPath := filepath.Join(path, entry.Name())
		if _, err := fmt.Sscanf(entry.Name(), "r.%d.%d.mca", &x, &z); err != nil {
			return fmt.Errorf("invalid region file name %q", regionPath)
		}
		if err := s.readRegion(dim, x, z, regionPath); err != nil {
			fmt.Fprintf(os.Stderr, "skipping region %q: %v\n", regionPath, err)
		}
	}
	return nil
}

func (s *Scan) readRegion(dim, x, z int, path string) error {
	r, err := region.Open(path)
	if err != nil {
		return err
	}
	for _, pos := range r.Occupied() {
		chunk, err := r.ReadChunk(pos.X, pos.Z)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping chunk (%d,%d) in %q: %v\n", pos.X, pos.Z, path, err)
			continue
		}
		if chunk == nil {
			continue
		}
		var tree map[string]interface{}
		if err := nbt.UnmarshalEncoding(chunk.Data, &tree, nbt.BigEndian); err != nil {
			fmt.Fprintf(os.Stderr, "skipping chunk (%d,%d) in %q: cannot decode nbt: %v\n", pos.X, pos.Z, path, err)
			continue
		}
		findUUIDs(tree, func(path string, id uuid.UUID) {
			s.csv.Write([]string{
				strconv.Itoa(dim),
				strconv.Itoa(x*32 + pos.X),
				strconv.Itoa(z*32 + pos.Z),
				path,
				id.String(),
			})
		})
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return fmt.Errorf("cannot write output: %v", err)
		}
	}
	return nil
}

// findUUIDs walks a gophertunnel-decoded NBT tree, invoking cb for every
// UUID it finds in IntArray, split-long (sibling *UUIDMost/*UUIDLeast long
// fields), or textual form.
func findUUIDs(x interface{}, cb func(path string, id uuid.UUID)) {
	walkUUIDs("", x, cb)
}

func walkUUIDs(path string, x interface{}, cb func(string, uuid.UUID)) {
	switch v := x.(type) {
	case string:
		for _, m := range dashedUUIDRE.FindAllString(v, -1) {
			if id, err := uuid.Parse(m); err == nil {
				cb(path, id)
			}
		}
		for _, m := range dashlessUUIDRE.FindAllString(v, -1) {
			if id, err := uuid.Parse(insertDashes(m)); err == nil {
				cb(path, id)
			}
		}
	case []int32:
		if len(v) == 4 {
			var b [16]byte
			for i, word := range v {
				b[i*4] = byte(word >> 24)
				b[i*4+1] = byte(word >> 16)
				b[i*4+2] = byte(word >> 8)
				b[i*4+3] = byte(word)
			}
			cb(path, uuid.UUID(b))
		}
	case map[string]interface{}:
		pairs := map[string]struct{ most, least *int64 }{}
		var keys []string
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if n, ok := v[k].(int64); ok {
				if prefix := strings.TrimSuffix(k, "UUIDMost"); prefix != k {
					p := pairs[prefix]
					p.most = &n
					pairs[prefix] = p
					continue
				}
				if prefix := strings.TrimSuffix(k, "UUIDLeast"); prefix != k {
					p := pairs[prefix]
					p.least = &n
					pairs[prefix] = p
					continue
				}
			}
			walkUUIDs(childPath(path, k), v[k], cb)
		}
		for _, pair := range pairs {
			if pair.most != nil && pair.least != nil {
				var b [16]byte
				putInt64BE(b[0:8], *pair.most)
				putInt64BE(b[8:16], *pair.least)
				cb(path, uuid.UUID(b))
			}
		}
	case []interface{}:
		for i, e := range v {
			walkUUIDs(path+fmt.Sprintf("[%d]", i), e, cb)
		}
	}
}

func childPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "/" + key
}

func putInt64BE(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (56 - 8*i))
	}
}

func insertDashes(hex32 string) string {
	return hex32[0:8] + "-" + hex32[8:12] + "-" + hex32[12:16] + "-" + hex32[16:20] + "-" + hex32[20:32]
}
