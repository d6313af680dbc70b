package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmcpherson/cadenza/internal"
	"github.com/mmcpherson/cadenza/internal/tagger"
	"github.com/mmcpherson/cadenza/internal/workflow"
	"github.com/mmcpherson/cadenza/pkg/logger"
)

var log = logger.Get("Main")

// main parses the request from the command line, loads the user
// configuration, and runs a single download-and-tag workflow.
func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration file (optional)")
		sourceURL  = flag.String("url", "", "source media URL to convert and download")
		artist     = flag.String("artist", "", "artist metadata to apply")
		title      = flag.String("title", "", "title metadata to apply")
		album      = flag.String("album", "", "album metadata to apply")
		track      = flag.Int("track", 0, "track number metadata to apply")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		logger.SetMinimumLevel(logger.DEBUG)
	}

	var config internal.CadenzaConfig
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Configuration failure: %s\n", err.Error())
		os.Exit(1)
	}

	request := workflow.Request{
		SourceURL: *sourceURL,
		Fields: tagger.Fields{
			Artist:      *artist,
			Title:       *title,
			Album:       *album,
			TrackNumber: *track,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cadenza := internal.New(config, nil)
	if failure := cadenza.RunOnce(ctx, request); failure != nil {
		log.Emit(logger.ERROR, "Workflow failed [%s, retryable=%v]: %s\n",
			failure.Kind(), failure.Retryable(), failure.Error())
		if failure.Critical() {
			log.Emit(logger.FATAL, "The original file's integrity is uncertain; a backup has been retained alongside it\n")
		}
		os.Exit(1)
	}

	path := cadenza.Workflow().ResultPath()
	summary := cadenza.Tagger().Summarize(path)
	fmt.Printf("Tagged %s\n  artist: %s\n  title:  %s\n  album:  %s\n  track:  %s\n  size:   %s\n  length: %s\n",
		path, summary.Artist, summary.Title, summary.Album, summary.TrackNumber, summary.FileSize, summary.Duration)
}
