// Command triage runs one extraction action against a host page and
// prints the result envelope as JSON.
//
// Usage:
//
//	triage -url https://acme.sentry.io/issues/123/ -action stack_trace
//	triage -remote ws://127.0.0.1:9222/devtools/browser/x -attach https://acme.sentry.io/ -action replay_link
//	triage -config triage.yaml -url ... -action replay_errors
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/triage/connectivity"
	"github.com/hazyhaar/triage/triage"
)

type options struct {
	configPath string
	pageURL    string
	attach     string
	remote     string
	action     string
	timeout    time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to triage.yaml config file")
	flag.StringVar(&o.pageURL, "url", "", "open a new tab on this URL")
	flag.StringVar(&o.attach, "attach", "", "attach to the remote browser's first tab whose URL has this prefix")
	flag.StringVar(&o.remote, "remote", "", "WebSocket URL of a running Chrome (overrides browser.remote)")
	flag.StringVar(&o.action, "action", string(triage.ActionStackTrace), "action: "+actionList())
	flag.DurationVar(&o.timeout, "timeout", 2*time.Minute, "upper bound for the whole action")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("triage: fatal", "error", err)
		os.Exit(1)
	}
}

func actionList() string {
	names := make([]string, len(triage.Actions))
	for i, a := range triage.Actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.pageURL == "" && o.attach == "" {
		fmt.Fprintln(os.Stderr, "usage: triage [-config <file>] (-url <url> | -remote <ws> -attach <prefix>) -action <name>")
		os.Exit(2)
	}

	cfg := triage.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = triage.LoadConfigFile(o.configPath); err != nil {
			return err
		}
	}
	if o.remote != "" {
		cfg.Browser.Remote = o.remote
	}

	sess, err := triage.OpenSession(ctx, cfg, triage.Target{URL: o.pageURL, Attach: o.attach}, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	router := connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithMiddleware(
			connectivity.Recovery(logger),
			connectivity.Logging(logger),
			connectivity.Timeout(o.timeout),
		),
	)
	call := connectivity.WithReinstall(router, triage.ServiceName, sess.Engine.Install, logger)

	payload, err := json.Marshal(triage.Request{Action: triage.Action(o.action)})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := call(ctx, payload)
	if err != nil {
		return err
	}
	os.Stdout.Write(resp)
	os.Stdout.Write([]byte("\n"))
	return nil
}
