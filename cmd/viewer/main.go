package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sketchlift/internal/store"
	"github.com/banshee-data/sketchlift/internal/version"
	"github.com/banshee-data/sketchlift/internal/viewer"
)

var (
	dbPath      = flag.String("db", "sketchlift.db", "Run store sqlite database")
	listen      = flag.String("listen", ":8080", "Listen address")
	assetsHost  = flag.String("assets-host", "", "Override the echarts asset host (for offline use)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("viewer"))
		return
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer st.Close()

	srv, err := viewer.New(viewer.Config{
		Address:    *listen,
		Runs:       st,
		Admin:      st,
		AssetsHost: *assetsHost,
	})
	if err != nil {
		log.Fatalf("failed to build viewer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("viewer: %v", err)
	}
}
