// relayq connects to the configured relays, runs one query and prints the
// merged events to the console.
// Usage: go run ./cmd/relayq --config configs/relayd.local.yaml --kinds 1 --limit 20
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/relaymesh/internal/app"
	"github.com/rickgao/relaymesh/internal/config"
	"github.com/rickgao/relaymesh/internal/model"
	"github.com/rickgao/relaymesh/internal/strategy"
)

func main() {
	configPath := flag.String("config", "configs/relayd.example.yaml", "path to config file")
	mode := flag.String("mode", "all", "operating mode while querying")
	intent := flag.String("intent", "feed", "query intent: feed, metadata, search, notifications, wallet")
	kinds := flag.String("kinds", "1", "comma-separated event kinds")
	authors := flag.String("authors", "", "comma-separated author pubkeys")
	search := flag.String("search", "", "full-text search term")
	since := flag.Duration("since", 0, "only events newer than this (e.g. 24h)")
	limit := flag.Int("limit", 20, "max events")
	timeout := flag.Duration("timeout", 20*time.Second, "overall deadline")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	info := flag.Bool("info", false, "print relay information documents instead of querying")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Relays.Mode = *mode
	cfg.Poller.Enabled = false

	qi, err := strategy.ParseIntent(*intent)
	if err != nil {
		logger.Error("invalid intent", "error", err)
		os.Exit(1)
	}

	f, err := buildFilter(*kinds, *authors, *search, *since, *limit, time.Now())
	if err != nil {
		logger.Error("invalid filter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build relaymesh", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start relaymesh", "error", err)
		os.Exit(1)
	}

	summary, err := a.Orchestrator.Settle(ctx)
	if err != nil {
		logger.Error("relays did not settle", "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "connected %d/%d relays (mode %s)\n", summary.Connected, summary.Total, summary.Mode)

	if *info {
		for _, url := range a.Orchestrator.ActiveEndpoints() {
			doc, err := a.RelayInfo(ctx, url)
			if err != nil {
				fmt.Printf("[INFO] %s unavailable: %v\n", url, err)
				continue
			}
			data, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Printf("[INFO] %s %s\n", url, data)
		}
		return
	}

	events, err := a.Service.RunQuery(ctx, f, qi)
	if err != nil {
		logger.Error("query failed", "error", err)
		os.Exit(1)
	}

	for _, ev := range events {
		printEvent(ev, *verbose)
	}
	fmt.Fprintf(os.Stderr, "%d events\n", len(events))
}

func buildFilter(kinds, authors, search string, since time.Duration, limit int, now time.Time) (model.Filter, error) {
	f := model.Filter{
		Authors: splitList(authors),
		Search:  search,
		Limit:   limit,
	}

	for _, s := range splitList(kinds) {
		k, err := strconv.Atoi(s)
		if err != nil {
			return model.Filter{}, fmt.Errorf("kind %q: %w", s, err)
		}
		f.Kinds = append(f.Kinds, k)
	}

	if since > 0 {
		ts := now.Add(-since).Unix()
		f.Since = &ts
	}

	return f, f.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}

	content := ev.Content
	if len(content) > 80 {
		content = content[:80] + "..."
	}
	fmt.Printf("[EVENT] id=%s kind=%d created_at=%s author=%s content=%q\n",
		ev.ID, ev.Kind, time.Unix(ev.CreatedAt, 0).UTC().Format(time.RFC3339), ev.PubKey, content)
}
