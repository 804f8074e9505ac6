package main

import (
	"os"

	"github.com/lukasbauer/voxquery/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
