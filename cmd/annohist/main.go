// Command annohist records and replays collection annotation history.
package main

import (
	"os"

	"github.com/roach88/annohist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
