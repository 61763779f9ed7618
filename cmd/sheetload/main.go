package main

import (
	"os"

	"github.com/dshills/sheetload/cmd/sheetload/commands"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	commands.Version = version
	commands.BuildTime = buildTime
	os.Exit(commands.Execute())
}
