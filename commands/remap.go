package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bwkimmel/mcuuidremap/log"
	"github.com/bwkimmel/mcuuidremap/mapping"
	"github.com/bwkimmel/mcuuidremap/remap"
	"github.com/bwkimmel/mcuuidremap/worldscan"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/mgutz/ansi"
)

var mappingKinds = map[string]mapping.Kind{
	"csv":                  mapping.Csv,
	"json":                 mapping.Json,
	"list-to-offline":      mapping.ListToOffline,
	"list-to-online":       mapping.ListToOnline,
	"usercache-to-offline": mapping.UsercacheToOffline,
	"usercache-to-online":  mapping.UsercacheToOnline,
	"offline-rename-csv":   mapping.OfflineRenameCsv,
}

func validMappingKinds() string {
	var names []string
	for k := range mappingKinds {
		names = append(names, k)
	}
	return strings.Join(names, ", ")
}

// Remap implements the remap command: the core driver that rewrites every
// UUID occurrence across a world in place, according to a loaded mapping.
type Remap struct {
	mappingKind string
	mappingFile string
	threads     int
	yes         bool
	dryRun      bool
	world       string
}

func (*Remap) Name() string { return "remap" }

func (*Remap) Synopsis() string { return "Rewrite UUIDs across a Minecraft world in place." }

func (*Remap) Usage() string {
	return `remap [<flags>...] <world>
Rewrite every UUID occurrence across a Minecraft world in place.

Scans the Minecraft world located in the directory <world> (the directory
containing level.dat), loads an old-UUID -> new-UUID mapping, and rewrites
every occurrence it finds across region files, player/level data, and the
plain-text formats, including occurrences embedded in filenames.

`
}

func (r *Remap) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.mappingKind, "mapping-kind", "", fmt.Sprintf("Kind of mapping file (one of: %s)", validMappingKinds()))
	f.StringVar(&r.mappingFile, "mapping-file", "", "Path to the mapping file")
	f.IntVar(&r.threads, "threads", worldscan.DefaultWorkerCount(), "Number of worker goroutines to use")
	f.BoolVar(&r.yes, "yes", false, "Skip the confirmation prompt")
	f.BoolVar(&r.dryRun, "dry-run", false, "Scan and report, but do not modify the world")
}

func (r *Remap) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "<world> is required.")
		return subcommands.ExitUsageError
	}
	if f.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Extra positional arguments found.")
		return subcommands.ExitUsageError
	}
	r.world = f.Arg(0)

	kind, ok := mappingKinds[r.mappingKind]
	if !ok {
		fmt.Fprintf(os.Stderr, "Invalid -mapping-kind (%q), must be one of %s.\n", r.mappingKind, validMappingKinds())
		return subcommands.ExitUsageError
	}
	if r.mappingFile == "" {
		fmt.Fprintln(os.Stderr, "-mapping-file is required.")
		return subcommands.ExitUsageError
	}

	tasks, err := worldscan.Scan(r.world)
	if err != nil {
		log.Errorf("failed to scan world: %v", err)
		return subcommands.ExitFailure
	}
	log.Infof("%d files found in %s", len(tasks), r.world)

	m, err := mapping.Load(kind, r.mappingFile)
	if err != nil {
		log.Errorf("failed to load mapping: %v", err)
		return subcommands.ExitFailure
	}
	if len(m) == 0 {
		log.Warn("empty mapping")
		log.Warn("the program will do identity mapping, i.e. f(x) = x")
		log.Warn("this is only useful for testing the program against your world")
	}

	printSummary(tasks, m, r.world)

	if r.dryRun {
		log.Info("dry run: nothing to do")
		return subcommands.ExitSuccess
	}
	if !r.yes && !confirm("Is this correct? [y/N]: ") {
		log.Error("cancelled by user")
		return subcommands.ExitFailure
	}

	cb := func(id uuid.UUID) (uuid.UUID, bool) {
		to, ok := m[id]
		return to, ok
	}
	total := worldscan.Run(tasks, r.threads, func(relPath string) (int, error) {
		return remap.File(r.world, relPath, cb)
	})
	log.Infof(ansi.Color("done!", "green+b")+" %d uuid fields modified", total)
	return subcommands.ExitSuccess
}

func printSummary(tasks []string, m map[uuid.UUID]uuid.UUID, world string) {
	log.Info(ansi.Color("Task Summary", "default+bu"))
	log.Info(ansi.Color("Files:", "yellow"))
	for _, task := range tasks {
		log.Infof("   %s", task)
	}
	log.Info(ansi.Color("Mapping:", "yellow"))
	for from, to := range m {
		log.Infof("   %s -> %s", from, to)
	}
	log.Infof(ansi.Color("We will modify", "red")+" %d "+ansi.Color("files in the world at", "red")+" %s", len(tasks), world)
	log.Info(ansi.Color("Make sure to back up your world before running this program", "red"))
}
