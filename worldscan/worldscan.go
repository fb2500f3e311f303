// Package worldscan discovers the files within a world directory that need
// UUID remapping and fans the work out across a pool of worker goroutines,
// each processing a disjoint, shuffled shard of the file list sequentially.
package worldscan

import (
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/bwkimmel/mcuuidremap/log"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/cpu"
)

const maxDepth = 20

var textExtensions = map[string]bool{
	"txt": true, "json": true, "json5": true,
	"properties": true, "toml": true, "yml": true, "yaml": true,
}

// RequiresRemapping reports whether path names a file this tool knows how
// to rewrite, based on its extension, and whether it currently looks
// writable and non-empty.
func RequiresRemapping(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch {
	case ext == "mca", ext == "dat", ext == "nbt", textExtensions[ext]:
	default:
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}
	return info.Mode().Perm()&0o200 != 0
}

// Scan walks world depth-first, up to maxDepth directories deep, and
// returns the world-relative path of every file RequiresRemapping accepts.
func Scan(world string) ([]string, error) {
	var tasks []string
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				if err := walk(full, depth+1); err != nil {
					return err
				}
				continue
			}
			if RequiresRemapping(full) {
				rel, err := filepath.Rel(world, full)
				if err != nil {
					return err
				}
				tasks = append(tasks, rel)
			}
		}
		return nil
	}
	if err := walk(world, 0); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Split divides tasks into count nearly-equal, contiguous shards: the first
// len(tasks)%count shards get one extra element.
func Split(tasks []string, count int) [][]string {
	if count <= 0 {
		count = 1
	}
	shards := make([][]string, count)
	blockSize := len(tasks) / count
	remainder := len(tasks) % count
	start := 0
	for i := 0; i < count; i++ {
		n := blockSize
		if i < remainder {
			n++
		}
		shards[i] = tasks[start : start+n]
		start += n
	}
	return shards
}

// DefaultWorkerCount reports the number of logical CPUs available, falling
// back to runtime.NumCPU if the cpu package can't read the host topology.
func DefaultWorkerCount() int {
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		return runtime.NumCPU()
	}
	return counts
}

// Process remaps a single world-relative task path and reports how many
// UUID occurrences it rewrote.
type Process func(relPath string) (rewrites int, err error)

// Run shuffles tasks, splits them into workerCount shards, and runs each
// shard sequentially on its own goroutine. It returns once every shard has
// finished, along with the total rewrite count across all shards.
func Run(tasks []string, workerCount int, process Process) int {
	shuffled := append([]string(nil), tasks...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	shards := Split(shuffled, workerCount)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i, shard := range shards {
		wg.Add(1)
		go func(worker int, shard []string) {
			defer wg.Done()
			count := 0
			for _, task := range shard {
				rewrites, err := process(task)
				if err != nil {
					log.WorkerErrorf(worker, "failed to remap %s: %v", task, err)
					continue
				}
				count += rewrites
			}
			mu.Lock()
			total += count
			mu.Unlock()
		}(i, shard)
	}
	wg.Wait()
	log.WorkerInfof(-1, "rewrote %s uuid occurrences across %d files", humanize.Comma(int64(total)), len(tasks))
	return total
}
