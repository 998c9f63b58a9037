package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/media"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/session"
	"github.com/entrhq/capture/pkg/types"
	"github.com/spf13/cobra"
)

var (
	captureDomain    string
	captureOut       string
	captureWait      time.Duration
	captureClipboard bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Load one page, inventory its media and hand off cookies",
	Long: `Create a session, navigate to the URL and wait for the load and media scan.
The result is printed as JSON.

With --domain the partition's cookies for that domain are written in the
Netscape cookie file format for an archival tool to reuse the login.`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureDomain, "domain", "", "Export cookies for this domain")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "Cookie file path (default <domain>-cookies.txt)")
	captureCmd.Flags().DurationVar(&captureWait, "wait", 30*time.Second, "Maximum time to wait for the page")
	captureCmd.Flags().BoolVar(&captureClipboard, "clipboard", false, "Copy the cookie export to the clipboard")
}

// captureOptions is one capture request.
type captureOptions struct {
	URL       string
	Domain    string
	Out       string
	Wait      time.Duration
	Clipboard bool
}

// captureResult is printed when a capture ends.
type captureResult struct {
	SessionID  string                 `json:"sessionId"`
	URL        string                 `json:"url"`
	Title      string                 `json:"title"`
	Error      *types.NavigationError `json:"error,omitempty"`
	Media      *types.MediaInventory  `json:"media,omitempty"`
	CookieFile string                 `json:"cookieFile,omitempty"`
	Cookies    int                    `json:"cookies"`
}

// scanGrace covers delivery of the media event after the scanner's own
// timeout.
const scanGrace = time.Second

// copyToClipboard is swapped in tests.
var copyToClipboard = clipboard.WriteAll

func runCapture(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(configPath, flagOverrides(cmd.Flags()))
	if err != nil {
		return err
	}
	logging.SetLevel(s.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger("capture")
	defer log.Close()

	eng, err := newEngine(s.driver, log.With(s.driver))
	if err != nil {
		return err
	}
	defer eng.Close()

	return capture(ctx, eng, s.session, captureOptions{
		URL:       args[0],
		Domain:    captureDomain,
		Out:       captureOut,
		Wait:      captureWait,
		Clipboard: captureClipboard,
	}, log, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// capture runs one session through a single page load.
func capture(ctx context.Context, eng engine.Engine, cfg session.Config, opts captureOptions, log *logging.Logger, stdout, stderr io.Writer) error {
	m := metrics.New()
	ctrl, err := session.NewController(eng, cfg,
		session.WithLogger(log.With("controller")),
		session.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Create(ctx); err != nil {
		return err
	}
	if err := ctrl.Navigate(ctx, opts.URL); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()
	inventory, err := awaitPage(waitCtx, ctrl, scanWait(cfg))
	if err != nil {
		return err
	}

	state := ctrl.State()
	result := captureResult{
		SessionID: state.ID,
		URL:       state.CurrentURL,
		Title:     state.CurrentTitle,
		Error:     state.LastError,
		Media:     inventory,
	}

	if opts.Domain != "" {
		exporter := cookies.NewExporter(ctrl, log.With("cookies"), m)
		records := exporter.GetCookies(ctx, opts.Domain)
		export := cookies.Format(records)

		path := opts.Out
		if path == "" {
			path = cookies.HandoffName(opts.Domain)
		}
		if err := cookies.WriteFile(path, export); err != nil {
			return err
		}
		result.CookieFile = path
		result.Cookies = len(records)

		if opts.Clipboard {
			if err := copyToClipboard(export); err != nil {
				fmt.Fprintf(stderr, "Warning: clipboard unavailable: %v\n", err)
			}
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Error != nil {
		return fmt.Errorf("navigation failed: %s", result.Error.Description)
	}
	return nil
}

// scanWait is how long a loaded page may wait for its inventory, or 0 when
// scanning is off. A failed scan reports nothing, so the wait is bounded by
// the scanner timeout rather than --wait.
func scanWait(cfg session.Config) time.Duration {
	if !cfg.ScanEnabled {
		return 0
	}
	timeout := cfg.Scanner.Timeout
	if timeout <= 0 {
		timeout = media.DefaultConfig().Timeout
	}
	// The markup fallback runs under the same deadline.
	return timeout + scanGrace
}

// awaitPage follows the event stream until the navigation settles. With a
// scan wait, a successful load also waits up to that long for its media
// inventory.
func awaitPage(ctx context.Context, ctrl *session.Controller, scan time.Duration) (*types.MediaInventory, error) {
	events := ctrl.Events()
	loaded := false
	var scanDone <-chan time.Time
	for {
		select {
		case <-scanDone:
			return nil, nil

		case <-ctx.Done():
			if loaded {
				// The page is usable even if the scan never reported.
				return nil, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("page did not finish loading in time")
			}
			return nil, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil, session.ErrClosed
			}
			switch ev.Type {
			case types.EventTypeError:
				return nil, nil
			case types.EventTypeMediaDetected:
				if loaded {
					return ev.Media, nil
				}
			case types.EventTypeLoading:
				if ev.Loading {
					continue
				}
				st := ctrl.State()
				if st.NavState != session.NavLoaded || st.CurrentURL == "" || st.CurrentURL == "about:blank" {
					continue
				}
				if scan <= 0 {
					return nil, nil
				}
				if !loaded {
					scanDone = time.After(scan)
				}
				loaded = true
			}
		}
	}
}
