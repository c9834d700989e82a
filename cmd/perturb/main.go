package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/sketchlift/internal/export"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/opacity"
	"github.com/banshee-data/sketchlift/internal/version"
)

// viewName is written next to the perturbed lines when -html is set.
const viewName = "perturbed_view.html"

var (
	root        = flag.String("root", ".", "Dataset root holding one folder per entry")
	seed        = flag.Uint64("seed", 0, "Random seed for opacity draws (0 uses the clock)")
	html        = flag.Bool("html", false, "Also write an interactive view of the perturbed lines")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("perturb"))
		return
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	log.Printf("opacity seed %d", s)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsys := fsutil.OSFileSystem{}
	results, err := opacity.ProcessDataset(ctx, fsys, *root, opacity.NewDraw(s))
	if err != nil {
		log.Fatalf("perturb: %v", err)
	}

	written := 0
	for _, res := range results {
		if !res.Written {
			continue
		}
		written++
		if !*html {
			continue
		}
		var buf bytes.Buffer
		if err := export.RenderHTML(&buf, opacity.Lines(res.Lines), export.HTMLOptions{Title: res.Entry}); err != nil {
			log.Fatalf("%s: %v", res.Entry, err)
		}
		path := filepath.Join(*root, res.Entry, viewName)
		if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			log.Fatalf("%s: %v", res.Entry, err)
		}
	}
	log.Printf("annotated %d of %d entries", written, len(results))
}
