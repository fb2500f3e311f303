// Package commands provides the subcommands supported by this tool.
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/bwkimmel/mcuuidremap/log"
	"github.com/mgutz/ansi"
)

// confirm prints prompt and waits for the user to type y or yes on stdin,
// returning whether they did. It is the last line of defense before a
// command mutates a world in place.
func confirm(prompt string) bool {
	fmt.Print(ansi.Color(prompt, "green+b"))
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		log.Info("exiting.")
		return false
	}
	switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
