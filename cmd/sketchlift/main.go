package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/banshee-data/sketchlift/internal/config"
	"github.com/banshee-data/sketchlift/internal/dataset"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/store"
	"github.com/banshee-data/sketchlift/internal/version"
)

var (
	root        = flag.String("root", ".", "Dataset root holding one folder per entry")
	entry       = flag.String("entry", "", "Reconstruct only this entry folder")
	configPath  = flag.String("config", "", "Path to a reconstruction config JSON (defaults apply when empty)")
	outDir      = flag.String("out", "", "Write outputs under this directory instead of each entry folder")
	dbPath      = flag.String("db", "", "Record runs in this sqlite database")
	noPreview   = flag.Bool("no-preview", false, "Skip the PNG preview")
	noHTML      = flag.Bool("no-html", false, "Skip the interactive HTML view")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("sketchlift"))
		return
	}

	cfg := config.EmptyReconstructConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadReconstructConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []dataset.Option{
		dataset.WithPreview(!*noPreview),
		dataset.WithHTML(!*noHTML),
	}
	if *outDir != "" {
		opts = append(opts, dataset.WithOutputDir(*outDir))
	}
	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open run store: %v", err)
		}
		defer st.Close()
		opts = append(opts, dataset.WithRecorder(st))
	}

	fsys := fsutil.OSFileSystem{}
	runner := dataset.NewRunner(fsys, cfg, opts...)

	if *entry != "" {
		e, err := dataset.ResolveEntry(fsys, *root, *entry, cfg)
		if err != nil {
			log.Fatalf("failed to resolve entry: %v", err)
		}
		res, err := runner.ReconstructEntry(ctx, e)
		if err != nil {
			log.Fatalf("%s: %v", e.Name, err)
		}
		log.Printf("%s: lifted %d strokes (%d failures)", e.Name, len(res.Records), len(res.Lift.Failures))
		for _, out := range res.Outputs {
			log.Printf("wrote %s", out)
		}
		return
	}

	sum, err := runner.Run(ctx, *root)
	if err != nil {
		log.Fatalf("reconstruction stopped: %v", err)
	}
	log.Printf("reconstructed %d entries, %d failed", len(sum.Results), len(sum.Failed))
	if len(sum.Failed) > 0 {
		names := make([]string, 0, len(sum.Failed))
		for name := range sum.Failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			log.Printf("  %s: %v", name, sum.Failed[name])
		}
		os.Exit(1)
	}
}
