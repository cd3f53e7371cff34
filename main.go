package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"goldhash/catalog"
	"goldhash/engine"
	"goldhash/perw"
	"goldhash/server"
)

// Configurazione del programma
type Config struct {
	Listen      string
	Roots       []string
	Snapshot    string
	Proxy       bool
	Upstream    string
	Workers     int
	Grace       time.Duration
	Timeout     time.Duration
	Verbose     bool
	ShowHelp    bool
	ShowVersion bool
	Inspect     string
}

const (
	versionString = "goldhash, version 0.3 (reference page hash verification)"
	maxWorkers    = 64
)

// rootList collects repeated -root flags.
type rootList []string

func (r *rootList) String() string {
	return strings.Join(*r, ",")
}

func (r *rootList) Set(v string) error {
	*r = append(*r, v)
	return nil
}

var (
	config = &Config{}
	roots  rootList

	// Flag di comando
	listen      = flag.String("listen", ":8080", "Address to serve verification requests on")
	snapshot    = flag.String("snapshot", "", "Catalog snapshot file; loaded at startup, written after a scan")
	proxy       = flag.Bool("proxy", false, "Forward requests for unknown modules to -upstream")
	upstream    = flag.String("upstream", "", "Base URL of the upstream verification service")
	workers     = flag.Int("workers", 4, "Number of catalog scan workers (1-64)")
	grace       = flag.Duration("grace", 3*time.Second, "Delay before exiting on a fatal startup error, and shutdown grace period")
	timeout     = flag.Duration("timeout", 30*time.Second, "Request read timeout and upstream timeout")
	verbose     = flag.Bool("v", false, "Enable debug logging")
	showHelp    = flag.Bool("help", false, "Display this help and exit")
	showVersion = flag.Bool("version", false, "Display version information and exit")
	inspect     = flag.String("inspect", "", "Describe a reference image and exit")
)

func init() {
	flag.Var(&roots, "root", "Directory to index reference images from (repeatable)")
	flag.Usage = customUsage
}

func customUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [ROOT...]\n", os.Args[0])
	_, _ = fmt.Fprintln(os.Stderr, "Verify memory page hashes of loaded modules against reference images on disk.")
	_, _ = fmt.Fprintln(os.Stderr, "")
	_, _ = fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
	_, _ = fmt.Fprintln(os.Stderr, "")
	_, _ = fmt.Fprintln(os.Stderr, "Examples:")
	_, _ = fmt.Fprintf(os.Stderr, "  %s -root C:\\Windows\\System32 -snapshot sys32.gob   # Index and serve\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s -root /mnt/golden -proxy -upstream http://hub:8080  # Forward unknown modules\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s -inspect ntdll.dll                                  # Show reference image details\n", os.Args[0])
}

func parseFlags() {
	flag.Parse()

	config.Listen = *listen
	config.Roots = append(append([]string(nil), roots...), flag.Args()...)
	config.Snapshot = *snapshot
	config.Proxy = *proxy
	config.Upstream = *upstream
	config.Workers = *workers
	config.Grace = *grace
	config.Timeout = *timeout
	config.Verbose = *verbose
	config.ShowHelp = *showHelp
	config.ShowVersion = *showVersion
	config.Inspect = *inspect

	// Validazione parametri
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Workers > maxWorkers {
		config.Workers = maxWorkers
	}
	if config.Grace < 0 {
		config.Grace = 0
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadCatalog restores the snapshot when one exists, otherwise scans the
// roots. scanned reports whether the catalog came from a complete scan
// and may be saved as a snapshot.
func loadCatalog(ctx context.Context, logger *slog.Logger) (cat *catalog.Catalog, scanned bool) {
	cat = catalog.New(catalog.Options{Logger: logger, Workers: config.Workers})

	if config.Snapshot != "" {
		err := cat.LoadFile(config.Snapshot)
		switch {
		case err == nil:
			logger.Info("catalog snapshot loaded", "file", config.Snapshot, "names", cat.Len())
			return cat, false
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("no catalog snapshot, scanning", "file", config.Snapshot)
		default:
			logger.Warn("cannot load catalog snapshot, scanning", "file", config.Snapshot, "err", err)
		}
	}

	if len(config.Roots) == 0 {
		return cat, false
	}
	start := time.Now()
	stats := cat.Build(ctx, config.Roots)
	if stats.Interrupted {
		// Scansione incompleta: non va salvata come snapshot
		logger.Warn("catalog scan interrupted", "names", cat.Len(), "indexed", stats.Indexed)
		return cat, false
	}
	logger.Info("catalog ready", "names", cat.Len(), "indexed", stats.Indexed,
		"skipped_dirs", stats.SkippedDirs, "elapsed", time.Since(start).Round(time.Millisecond))
	return cat, true
}

func newEngine(cat *catalog.Catalog, logger *slog.Logger) (*engine.Engine, error) {
	opts := engine.Options{Catalog: cat, Logger: logger}
	if config.Proxy {
		if config.Upstream == "" {
			return nil, errors.New("-proxy requires -upstream")
		}
		p, err := engine.NewProxy(config.Upstream, config.Timeout)
		if err != nil {
			return nil, err
		}
		opts.Proxy = p
	}
	return engine.New(opts), nil
}

func serve(ctx context.Context, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           h,
		ReadHeaderTimeout: config.Timeout,
		ReadTimeout:       config.Timeout,
		IdleTimeout:       2 * config.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	// Chiusura ordinata delle connessioni
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Grace)
	defer cancel()
	logger.Info("shutting down")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
}

func run() int {
	logger := newLogger()

	if config.Inspect != "" {
		if err := perw.Describe(os.Stdout, config.Inspect); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %s: %v\n", os.Args[0], config.Inspect, err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, scanned := loadCatalog(ctx, logger)
	if cat.Len() == 0 {
		logger.Error("reference catalog is empty", "roots", config.Roots, "snapshot", config.Snapshot)
		time.Sleep(config.Grace)
		return 1
	}

	eng, err := newEngine(cat, logger)
	if err != nil {
		logger.Error("cannot configure engine", "err", err)
		time.Sleep(config.Grace)
		return 1
	}

	code := 0
	if err := serve(ctx, server.New(eng, logger), logger); err != nil {
		logger.Error("server stopped", "err", err)
		code = 1
	}

	// Salva lo snapshot dopo una scansione completa
	if scanned && config.Snapshot != "" {
		if err := cat.SaveFile(config.Snapshot); err != nil {
			logger.Warn("cannot write catalog snapshot", "file", config.Snapshot, "err", err)
		} else {
			logger.Info("catalog snapshot written", "file", config.Snapshot, "names", cat.Len())
		}
	}
	return code
}

func main() {
	parseFlags()

	if config.ShowHelp {
		flag.Usage()
		os.Exit(0)
	}

	if config.ShowVersion {
		fmt.Println(versionString)
		os.Exit(0)
	}

	os.Exit(run())
}
