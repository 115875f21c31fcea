package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/rpfba/internal"
	"github.com/starford/rpfba/internal/simservice"
	pkgconfig "github.com/starford/rpfba/pkg/config"
)

const defaultConfigPath = "config/config.yaml"

// loadConfig reads the config file. A missing default file leaves the
// built-in defaults in place; a file named explicitly must exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return cfg, nil
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySimulationFlags(cmd, cfg); err != nil {
		return err
	}

	req := internal.DefaultRequest(cfg)
	if cmd.IsSet("input-format") {
		req.Format = cmd.String("input-format")
		if req.Format != simservice.FormatTar && req.Format != simservice.FormatSBML {
			return fmt.Errorf("--input-format must be %s or %s", simservice.FormatTar, simservice.FormatSBML)
		}
	}

	sum, err := internal.RunBatch(ctx, internal.BatchRequest{
		Input:   cmd.String("input"),
		GEM:     cmd.String("gem"),
		Output:  cmd.String("output"),
		Request: req,
	}, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "%s: %d completed, %d skipped of %d\n",
		sum.RunID, len(sum.Completed), len(sum.Skipped), sum.Total)
	return nil
}

func watchInbox(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySimulationFlags(cmd, cfg); err != nil {
		return err
	}
	for flag, dst := range map[string]*string{
		"inbox":  &cfg.Watch.Inbox,
		"outbox": &cfg.Watch.Outbox,
		"gem":    &cfg.Watch.GEM,
	} {
		if cmd.IsSet(flag) {
			*dst = cmd.String(flag)
		}
	}
	return internal.RunWatch(ctx, internal.WithConfig(cfg))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func inspect(ctx context.Context, cmd *cli.Command) error {
	loc := cmd.Args().First()
	if loc == "" {
		return fmt.Errorf("inspect: model location required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	info, err := internal.Inspect(ctx, loc, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func runWorker(ctx context.Context, cmd *cli.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return internal.RunWorker(ctx, level)
}

func main() {
	cmd := &cli.Command{
		Name:  "rpfba",
		Usage: "Merge heterologous pathway models into a genome-scale model and run flux balance analysis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigPath,
				Value:       defaultConfigPath,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Simulate every model of an archive and write the result archive",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "Model archive, or one model with --input-format sbml (path or s3://bucket/key)"},
					&cli.StringFlag{Name: "gem", Aliases: []string{"g"}, Required: true, Usage: "Genome-scale model SBML (path or s3://bucket/key)"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: "Result location (path or s3://bucket/key)"},
					&cli.StringFlag{Name: "input-format", Value: simservice.FormatTar, Usage: "tar or sbml"},
				}, simulationFlags()...),
				Action: run,
			},
			{
				Name:  "serve",
				Usage: "Serve the REST API",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "HTTP port, overrides app.http.port"},
				},
				Action: serve,
			},
			{
				Name:  "watch",
				Usage: "Simulate every archive dropped into an inbox directory",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "inbox", Usage: "Directory to watch, overrides watch.inbox"},
					&cli.StringFlag{Name: "outbox", Usage: "Directory receiving results, overrides watch.outbox"},
					&cli.StringFlag{Name: "gem", Usage: "Genome-scale model, overrides watch.gem"},
				}, simulationFlags()...),
				Action: watchInbox,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: mcp,
			},
			{
				Name:      "inspect",
				Usage:     "Print a JSON summary of a model and its flux results",
				ArgsUsage: "<location>",
				Action:    inspect,
			},
			{
				Name:   "worker",
				Usage:  "Run one job read from stdin (used by the process launcher)",
				Hidden: true,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "log-level", Value: "INFO", Sources: cli.EnvVars("RPFBA_WORKER_LOG_LEVEL")},
				},
				Action: runWorker,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
