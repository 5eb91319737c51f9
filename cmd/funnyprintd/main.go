// Command funnyprintd runs the print daemon: an HTTP service that
// renders text/images into the wire format and streams them to a
// FunnyPrint sticker printer over Bluetooth Low Energy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rusq/osenv/v2"
	"tinygo.org/x/bluetooth"

	"github.com/kilobyte-labs/funnyprint"
	"github.com/kilobyte-labs/funnyprint/ble"
	"github.com/kilobyte-labs/funnyprint/daemon"
	"github.com/kilobyte-labs/funnyprint/wire"
)

var (
	listen         = flag.String("listen", "0.0.0.0:8080", "HTTP `address` to listen on")
	defaultAddress = flag.String("default-address", "", "fallback printer `MAC address` for print requests that omit one")
	apiToken       = flag.String("api-token", osenv.Value("FUNNYPRINT_API_TOKEN", ""), "shared secret required on mutating endpoints (env FUNNYPRINT_API_TOKEN)")
	logJSON        = flag.Bool("log-json", false, "log in JSON format")
	verbose        = flag.Bool("v", false, "verbose (debug) logging")
	scanSeconds    = flag.Int("scan-seconds", 0, "if > 0, scan for this many seconds, print a table of results, and exit")
)

func main() {
	flag.Parse()
	setupLogging()

	adapter, err := ble.Adapter()
	if err != nil {
		slog.Error("failed to get bluetooth adapter", "error", err)
		os.Exit(1)
	}

	if *scanSeconds > 0 {
		if err := runScan(adapter, *scanSeconds); err != nil {
			slog.Error("scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(adapter); err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runScan(adapter *bluetooth.Adapter, seconds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second+time.Second)
	defer cancel()

	peripherals, err := ble.Scan(ctx, adapter, time.Duration(seconds)*time.Second)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	tbl := pterm.TableData{{"Address", "Name"}}
	for _, p := range peripherals {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		}
		tbl = append(tbl, []string{p.Address, name})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(tbl).Render()
}

func run(adapter *bluetooth.Adapter) error {
	store := daemon.NewStore()
	worker := daemon.NewWorker(store, printViaBLE(adapter))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)

	srv := daemon.New(store, worker, adapter,
		daemon.WithAPIToken(*apiToken),
		daemon.WithDefaultAddress(*defaultAddress),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(*listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		worker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// printViaBLE adapts funnyprint.Print into the daemon worker's
// PrintFunc shape.
func printViaBLE(adapter *bluetooth.Adapter) daemon.PrintFunc {
	return func(ctx context.Context, address string, density uint8, lines []wire.PackedLine) error {
		return funnyprint.Print(ctx, adapter, address, density, lines)
	}
}
