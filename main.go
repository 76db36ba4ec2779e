package main

import (
	"context"
	"os"

	"github.com/markertrack/markertrack/cmd"
	"github.com/markertrack/markertrack/internal/buildinfo"
	"github.com/markertrack/markertrack/internal/detector"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	build := buildinfo.NewContext(version, buildDate, detector.Names()...)

	if err := cmd.RootCommand(build).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
