// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/ragchat"
	"github.com/poiesic/ragchat/config"
	"github.com/urfave/cli/v2"
)

// configKey is the App.Metadata key holding the loaded *config.Config.
const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragchat",
		Usage: "Ask questions about your documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file (default: ragchat.yaml, ragchat.yml or ragchat.toml in the working directory)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before the environment is read",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Override the data directory",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadConfig(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides the config file)",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Upload every file matching the given glob patterns",
				ArgsUsage: "PATTERN...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "owner",
						Aliases: []string{"o"},
						Usage:   "Owner recorded on the uploaded chunks",
						Value:   defaultActor,
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show a progress bar on stderr",
						Value: true,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the uploaded documents",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "session",
						Aliases: []string{"s"},
						Usage:   "Session whose history is used and extended",
						Value:   "default",
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of chunks to retrieve (0 uses the configured value)",
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "Answer language (empty detects it from the documents)",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show the number of stored chunks",
				Action: statsCommand,
			},
			{
				Name:   "sources",
				Usage:  "List the uploaded documents",
				Action: sourcesCommand,
			},
			{
				Name:      "preview",
				Usage:     "Show the first chunks of a document",
				ArgsUsage: "FILENAME",
				Action:    previewCommand,
				Flags:     []cli.Flag{actorFlag()},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its encrypted copies",
				ArgsUsage: "FILENAME",
				Action:    deleteCommand,
				Flags:     []cli.Flag{actorFlag()},
			},
			{
				Name:   "clear",
				Usage:  "Delete every document",
				Action: clearCommand,
				Flags: []cli.Flag{
					actorFlag(),
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the deletion",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Rebuild every stored vector with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show a progress bar on stderr",
						Value: true,
					},
				},
			},
			{
				Name:   "audit",
				Usage:  "Show the most recent audit events",
				Action: auditCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of events",
						Value:   20,
					},
				},
			},
		},
	}
}

// defaultActor is recorded in the audit log for CLI operations.
const defaultActor = "cli"

func actorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "actor",
		Usage: "Name recorded in the audit log",
		Value: defaultActor,
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))
	var level slog.Level

	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads .env, the config file and the environment, in that
// order of increasing precedence, and stores the result in App.Metadata.
func loadConfig(c *cli.Context) error {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return err
	}

	var (
		cfg  *config.Config
		path = c.String("config")
		err  error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, path, err = config.LoadDefault(".")
	}
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if path != "" {
		slog.Debug("loaded config", "path", path)
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// openEngine opens the engine described by the loaded configuration.
func openEngine(c *cli.Context) (*ragchat.Engine, error) {
	cfg, err := configFrom(c)
	if err != nil {
		return nil, err
	}
	engine, err := ragchat.Open(cfg, ragchat.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}
