// Command mcuuidremap rewrites UUIDs across a Minecraft world in place:
// in region file chunk data (IntArray, split-long, and textual encodings),
// in level/player NBT data, in the plain-text formats mods and plugins
// commonly use, and in filenames themselves.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/bwkimmel/mcuuidremap/commands"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&commands.Remap{}, "")
	subcommands.Register(&commands.Scan{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
