package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticemem/lattice/internal/config"
	"github.com/latticemem/lattice/internal/engine"
	"github.com/latticemem/lattice/internal/ledger"
	"github.com/latticemem/lattice/internal/server"
	"github.com/latticemem/lattice/internal/store"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a yaml/json config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(engine.Options{
		Theme:         cfg.Engine.Theme,
		Tier:          ledger.Tier(cfg.Engine.Tier),
		Seed:          cfg.Engine.Seed,
		DecayInterval: time.Duration(cfg.Engine.DecayMinutes) * time.Minute,
	})

	minRel := cfg.Injection.MinRelevance
	maxCtx := cfg.Injection.MaxContext
	force := cfg.Injection.Force
	eng.ConfigureInjection(nil, &minRel, &maxCtx, &force)

	snap, err := db.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	eng.Restore(snap)
	fmt.Fprintf(os.Stderr, "  restored %d crystals, %d threads\n", len(snap.Crystals), len(snap.Threads))

	eng.StartDecayTimer()
	defer eng.Stop()

	srv := server.New(eng, db, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "lattice serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	if err := db.SaveSnapshot(eng.Snapshot()); err != nil {
		fmt.Fprintf(os.Stderr, "save snapshot: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
