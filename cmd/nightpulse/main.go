// Command nightpulse runs the after-sunset pulse service: an NTP-
// disciplined one-second scheduler driving the feed/interpolate/
// classify/emit pipeline, with an HTTP API and debug surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lattice-data/nightpulse/internal/api"
	"github.com/lattice-data/nightpulse/internal/config"
	"github.com/lattice-data/nightpulse/internal/feed"
	"github.com/lattice-data/nightpulse/internal/metrics"
	"github.com/lattice-data/nightpulse/internal/monitoring"
	"github.com/lattice-data/nightpulse/internal/pipeline"
	"github.com/lattice-data/nightpulse/internal/pulse"
	"github.com/lattice-data/nightpulse/internal/refclock"
	"github.com/lattice-data/nightpulse/internal/store"
	"github.com/lattice-data/nightpulse/internal/sunset"
	"github.com/lattice-data/nightpulse/internal/tick"
	"github.com/lattice-data/nightpulse/internal/track"
	"github.com/lattice-data/nightpulse/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file (defaults apply when omitted)")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *debug || cfg.GetDebug() {
		monitoring.SetDebug(true)
	}
	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	log.Printf("starting %s", version.String())

	// Reference clock, synced immediately and then on its interval.
	ntpSource := &refclock.NTPSource{Server: cfg.GetNTPServer()}
	clock := refclock.New(ntpSource,
		refclock.WithSyncInterval(cfg.GetSyncInterval()),
		refclock.WithSyncFailureHook(func(error) { metrics.SyncFailuresTotal.Inc() }),
	)

	db, err := store.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	backup, err := store.NewBackupDir(cfg.GetBackupDir())
	if err != nil {
		log.Fatalf("failed to create backup dir: %v", err)
	}
	sink := store.NewPulseStore(db, backup)

	grid := sunset.NewGrid()
	for _, path := range cfg.GetRegionFiles() {
		region, err := sunset.LoadRegion(path)
		if err != nil {
			log.Fatalf("failed to load sunset region %s: %v", path, err)
		}
		grid.AddRegion(region)
		log.Printf("loaded sunset region %q (%d cells)", region.Name, len(region.Cells))
	}
	if len(grid.Regions()) == 0 {
		log.Print("warning: no sunset regions loaded, every aircraft will be omitted (build regions with gridtool)")
	}

	feedOpts := []feed.Option{
		feed.WithRetry(cfg.GetRetryAttempts(), cfg.GetRetryDelay()),
	}
	if user := cfg.GetOpenSkyUsername(); user != "" {
		feedOpts = append(feedOpts, feed.WithCredentials(user, cfg.GetOpenSkyPassword()))
	}
	if minLat, minLon, maxLat, maxLon, ok := cfg.GetBoundingBox(); ok {
		feedOpts = append(feedOpts, feed.WithBoundingBox(feed.BoundingBox{
			MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon,
		}))
	}
	feedClient := feed.NewClient(feedOpts...)

	interp := track.NewInterpolator()
	gen := pulse.NewGenerator(cfg.GetCascadeLength())
	pipe := pipeline.New(feedClient, interp, grid, gen, sink,
		pipeline.WithFetchTimeout(cfg.GetFetchTimeout()),
		pipeline.WithSweep(cfg.GetSweepEveryTicks(), cfg.GetSweepMaxAgeSeconds()),
	)

	scheduler := tick.New(clock)
	scheduler.Register(pipe)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start()
	defer scheduler.Stop()

	// Hourly cleanup of expired local backups.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := backup.CleanupOldBackups(cfg.GetBackupMaxAge()); err != nil {
					log.Printf("backup cleanup failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (tailsql console, on-demand backup)
		if err := db.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}
		mux.Handle("/metrics", metrics.Handler())

		apiMux := api.NewServer(pipe, interp, grid, clock, db, sink, cfg).ServeMux()
		// The charts route lives under /debug/, which the admin
		// debugger owns on this mux; the longer pattern wins.
		mux.Handle("/debug/charts/", apiMux)
		mux.Handle("/", apiMux)

		server := &http.Server{
			Addr:    listenAddr,
			Handler: api.LoggingMiddleware(metrics.Middleware(mux)),
		}

		go func() {
			log.Printf("listening on %s", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	scheduler.Stop()
	wg.Wait()

	snap := pipe.Snapshot()
	log.Printf("final counts: %d ticks, %d pulses", snap.TickCount, snap.PulseCount)
}
