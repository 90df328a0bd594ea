package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/divertscan/fieldsync/internal/config"
	"github.com/divertscan/fieldsync/internal/daemon"
	"github.com/divertscan/fieldsync/internal/queue"
	"github.com/divertscan/fieldsync/internal/store"
	"github.com/divertscan/fieldsync/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"fieldsync.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Run struct {
	} `cmd:"" help:"Run the field sync agent"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Queue struct {
		List struct {
		} `cmd:"" help:"List pending sync operations in delivery order"`

		Stats struct {
		} `cmd:"" help:"Show queue depth and attempt counts"`
	} `cmd:"" help:"Inspect the durable operation queue"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	switch ctx.Command() {
	case "run":
		cfg, err := loadConfig()
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runAgent(cfg); err != nil {
			slog.Error("Agent failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "queue list":
		cfg, err := loadConfig()
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runQueueList(cfg); err != nil {
			slog.Error("Queue list failed", "error", err)
			os.Exit(1)
		}
	case "queue stats":
		cfg, err := loadConfig()
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runQueueStats(cfg); err != nil {
			slog.Error("Queue stats failed", "error", err)
			os.Exit(1)
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, err
	}
	if CLI.Verbose {
		cfg.Logging.Level = string(config.LogLevelDebug)
	}
	config.SetupLogging(cfg.Logging)
	return cfg, nil
}

func runAgent(cfg *config.Config) error {
	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("marshal default configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write configuration file: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

// openQueue rehydrates the queue from the configured store for read-only
// inspection. The agent must not be running against the same database file.
func openQueue(ctx context.Context, cfg *config.Config) (*queue.OperationQueue, func(), error) {
	st, err := store.NewSQLiteStore(cfg.Store.Path, clockwork.NewRealClock())
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(st, nil, nil)
	if err := q.Rehydrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return q, func() { _ = st.Close() }, nil
}

func runQueueList(cfg *config.Config) error {
	ctx := context.Background()
	q, closeStore, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ops := q.Snapshot()
	if len(ops) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMETHOD\tENDPOINT\tENQUEUED\tATTEMPTS")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			op.ID, op.Method, op.Endpoint, op.EnqueuedAt.Format("2006-01-02 15:04:05"), op.Attempts)
	}
	return w.Flush()
}

func runQueueStats(cfg *config.Config) error {
	ctx := context.Background()
	q, closeStore, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ops := q.Snapshot()
	retrying := 0
	for _, op := range ops {
		if op.Attempts > 0 {
			retrying++
		}
	}

	fmt.Printf("Pending operations: %d\n", len(ops))
	fmt.Printf("Operations with failed attempts: %d\n", retrying)
	if len(ops) > 0 {
		head := ops[0]
		fmt.Printf("Head: %s %s (enqueued %s, %d attempts)\n",
			head.Method, head.Endpoint, head.EnqueuedAt.Format("2006-01-02 15:04:05"), head.Attempts)
	}
	return nil
}
