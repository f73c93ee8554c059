// CLAUDE:SUMMARY CLI entry point for docattach: attach files to an SEI process, optional status server, MCP stdio mode and browser session import.
// Command docattach attaches local files to a process of an SEI-like web
// application.
//
// Usage:
//
//	docattach -config docattach.yaml nota.pdf oficios/     # attach and exit
//	docattach -config docattach.yaml -login nota.pdf       # log in through Chrome first
//	docattach -config docattach.yaml -listen :8090         # status server on 127.0.0.1:8090
//	docattach -config docattach.yaml -mcp                  # MCP tools over stdio
//
// One JSON line is printed per file. The exit status is 2 when any file
// ended in fallback.
//
// The /api routes of the status server need the bearer token from
// api.token or DOCATTACH_API_TOKEN. A listen address without a host binds
// loopback only.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docattach/attach"
)

const version = "1.0.0"

// errFallback marks a batch in which at least one file fell back.
var errFallback = errors.New("some files fell back")

type flags struct {
	config   string
	process  string
	journal  string
	listen   string
	mcp      bool
	browser  string
	login    bool
	logLevel string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to docattach.yaml config file")
	flag.StringVar(&f.process, "process", "", "process page URL (overrides config and DOCATTACH_PROCESS_URL)")
	flag.StringVar(&f.journal, "journal", "", "SQLite outcome journal path (overrides DOCATTACH_JOURNAL)")
	flag.StringVar(&f.listen, "listen", "", "status server address, e.g. :8090 (loopback unless a host is given)")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&f.browser, "browser", "", "DevTools WebSocket URL of a logged-in Chrome to import cookies from")
	flag.BoolVar(&f.login, "login", false, "launch Chrome, wait for login, import its cookies")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
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
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, f, flag.Args())
	switch {
	case err == nil:
	case errors.Is(err, errFallback):
		os.Exit(2)
	default:
		logger.Error("docattach: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags, paths []string) error {
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	if f.listen == "" {
		f.listen = cfg.Listen
	}
	f.listen = loopbackDefault(f.listen)
	if f.listen != "" && cfg.API.Token == "" {
		logger.Warn("docattach: api.token unset, /api routes refuse every request")
	}

	var opts []attach.Option
	if !f.mcp {
		// stdout belongs to the MCP protocol in -mcp mode.
		opts = append(opts, attach.OnEntry(printer()))
	}
	svc, err := attach.New(*cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	if f.login || cfg.Browser.RemoteURL != "" {
		n, err := svc.ImportBrowserSession(ctx)
		if err != nil {
			return fmt.Errorf("browser session: %w", err)
		}
		logger.Info("docattach: browser session imported", "cookies", n)
	}

	var wg sync.WaitGroup
	if f.listen != "" {
		srv := &http.Server{Addr: f.listen, Handler: svc.Routes(), ReadHeaderTimeout: 10 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("docattach: status server", "addr", f.listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("docattach: status server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			wg.Wait()
		}()
	}

	if len(paths) > 0 {
		if _, err := svc.EnqueuePaths(paths...); err != nil {
			return err
		}
	}

	if f.mcp {
		server := mcp.NewServer(&mcp.Implementation{Name: "docattach", Version: version}, nil)
		svc.RegisterMCP(server)
		logger.Info("docattach: serving MCP over stdio")
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	if len(paths) == 0 {
		if f.listen == "" {
			fmt.Fprintln(os.Stderr, "usage: docattach -config <file> [-process <url>] [-journal <db>] [-listen <addr>] [-mcp] [-browser <ws-url>] [-login] file|dir ...")
			return errors.New("nothing to do")
		}
		<-ctx.Done()
		logger.Info("docattach: shutting down")
		return nil
	}

	sum, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("docattach: batch done", "batch_id", sum.BatchID,
		"total", sum.Total, "succeeded", sum.Succeeded, "fallback", sum.Fallback)
	if sum.Fallback > 0 {
		return errFallback
	}
	return nil
}

func resolveConfig(f flags) (*attach.Config, error) {
	cfg := attach.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = attach.LoadConfigFile(f.config); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("DOCATTACH_PROCESS_URL"); v != "" {
		cfg.Protocol.ProcessURL = v
	}
	if v := os.Getenv("DOCATTACH_JOURNAL"); v != "" {
		cfg.Journal = v
	}
	if v := os.Getenv("DOCATTACH_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if f.process != "" {
		cfg.Protocol.ProcessURL = f.process
	}
	if f.journal != "" {
		cfg.Journal = f.journal
	}
	if f.browser != "" {
		cfg.Browser.RemoteURL = f.browser
	}
	if f.login {
		cfg.Browser.Headless = false
	}
	return cfg, cfg.Validate()
}

// loopbackDefault binds a host-less address such as ":8090" to 127.0.0.1.
func loopbackDefault(addr string) string {
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}

// printer writes one JSON line per terminal entry to stdout.
func printer() func(context.Context, attach.Entry) {
	enc := json.NewEncoder(os.Stdout)
	var mu sync.Mutex
	return func(_ context.Context, e attach.Entry) {
		mu.Lock()
		defer mu.Unlock()
		enc.Encode(struct {
			File       string   `json:"file"`
			Status     string   `json:"status"`
			State      string   `json:"state"`
			Series     string   `json:"series,omitempty"`
			Name       string   `json:"name,omitempty"`
			FinalURL   string   `json:"final_url,omitempty"`
			Diagnostic string   `json:"diagnostic,omitempty"`
			Errors     []string `json:"errors,omitempty"`
		}{
			File:       e.Name,
			Status:     string(e.Status),
			State:      string(e.State),
			Series:     e.Series,
			Name:       e.ProcessedName,
			FinalURL:   e.Outcome.FinalURL,
			Diagnostic: e.Diagnostic,
			Errors:     e.Outcome.Errors,
		})
	}
}
