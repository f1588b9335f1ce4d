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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/poiesic/ragchat/chat"
	"github.com/poiesic/ragchat/extract"
	"github.com/poiesic/ragchat/ingestion"
	"github.com/poiesic/ragchat/reembed"
	"github.com/poiesic/ragchat/server"
	"github.com/urfave/cli/v2"
)

var errConfirmationRequired = errors.New("refusing to clear without --yes")

func serveCommand(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	srv, err := server.New(engine,
		server.WithLogger(slog.Default()),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
	)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if a := c.String("addr"); a != "" {
		addr = a
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr, cfg.ShutdownTimeout())
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file pattern is required")
	}
	paths, err := expandPatterns(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported files match %s", strings.Join(c.Args().Slice(), " "))
	}

	docs := make([]ingestion.Document, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, ingestion.Document{Filename: path, Owner: c.String("owner"), Raw: raw})
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	progress := newIngestProgress(os.Stderr, len(docs), c.Bool("progress"))
	start := time.Now()
	results := engine.IngestAll(c.Context, docs, func(ingestion.Result) {
		progress.Done()
	})
	progress.Finish()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if c.Bool("json") {
		out := make([]ingestSummary, len(results))
		for i, r := range results {
			out[i] = summarize(r)
		}
		if err := printJSON(c.App.Writer, out); err != nil {
			return err
		}
	} else {
		w := c.App.Writer
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(w, "FAIL %s: %v\n", r.Filename, r.Err)
				continue
			}
			fmt.Fprintf(w, "ok   %s (%d chunks)\n", r.Ingest.Filename, r.Ingest.Chunks)
		}
		fmt.Fprintf(w, "%d of %d files ingested in %s\n", len(results)-failed, len(results), time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

type ingestSummary struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

func summarize(r ingestion.Result) ingestSummary {
	if r.Err != nil {
		return ingestSummary{Filename: r.Filename, Error: r.Err.Error()}
	}
	return ingestSummary{Filename: r.Ingest.Filename, Chunks: r.Ingest.Chunks}
}

// expandPatterns resolves doublestar patterns to the de-duplicated list of
// regular files with a supported extension, in pattern order. A pattern
// without metacharacters names a file directly.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if seen[m] || !extract.Supported(m) {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}
	return paths, nil
}

func askCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	resp, err := engine.Ask(c.Context, chat.Request{
		Question:  question,
		TopK:      c.Int("top-k"),
		SessionID: c.String("session"),
		Language:  c.String("language"),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}
	fmt.Fprintln(c.App.Writer, resp.Answer)
	if resp.NumSources > 0 {
		fmt.Fprintf(c.App.Writer, "\nSources: %s\n", strings.Join(resp.Sources, ", "))
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Stats(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, stats)
	}
	fmt.Fprintf(c.App.Writer, "collection: %s\nchunks:     %d\n", stats.Collection, stats.TotalChunks)
	return nil
}

func sourcesCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	sources, err := engine.Sources(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, map[string][]string{"files": sources})
	}
	for _, s := range sources {
		fmt.Fprintln(c.App.Writer, s)
	}
	return nil
}

func previewCommand(c *cli.Context) error {
	filename, err := singleArg(c, "filename")
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	preview, err := engine.Preview(c.Context, filename, c.String("actor"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, preview)
	}
	for i, chunk := range preview.PreviewChunks {
		fmt.Fprintf(c.App.Writer, "--- chunk %d ---\n%s\n", i+1, chunk)
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	filename, err := singleArg(c, "filename")
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Delete(c.Context, filename, c.String("actor"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, result)
	}
	fmt.Fprintf(c.App.Writer, "deleted %s: %d chunks, %d encrypted files\n",
		result.Filename, result.DeletedChunks, result.EncryptedFilesRemoved)
	return nil
}

func clearCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errConfirmationRequired
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Clear(c.Context, c.String("actor")); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "All documents cleared")
	return nil
}

func reembedCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := engine.Config()
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.AI.EmbeddingModel)

	var progress reembed.Progress
	if c.Bool("progress") {
		progress = &reembedProgress{w: os.Stderr}
	}
	stats, err := engine.Reembed(c.Context, progress)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, stats)
	}
	fmt.Fprintf(c.App.Writer, "Reembedded %d of %d chunks in %v\n",
		stats.Updated, stats.Total, stats.Elapsed.Round(time.Millisecond))
	return nil
}

func auditCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	events, err := engine.AuditEvents(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, events)
	}
	for _, ev := range events {
		fmt.Fprintf(c.App.Writer, "%s  %-8s %-12s %s\n",
			ev.OccurredAt.Local().Format(time.DateTime), ev.Action, ev.Actor, ev.Target)
	}
	return nil
}

func singleArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("exactly one %s is required", name)
	}
	return c.Args().First(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
