// Package media inventories the images and videos of a loaded page.
//
// The scan is advisory: it runs an inspection routine inside the page, treats
// whatever comes back as untrusted, and never fails the session. A scan that
// cannot run yields a Failed result which callers log and drop.
package media

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/types"
)

//go:embed scan.js
var scanScript string

// Script returns the inspection routine run inside the page. It takes a
// {maxImages, maxVideos} argument and returns {images, videos}.
func Script() string { return scanScript }

const (
	DefaultMaxImages = 10
	DefaultMaxVideos = 5

	maxAlternates = 8
	maxAltText    = 512
	maxSourceURL  = 4096
)

// Target is the page surface a scan needs.
type Target interface {
	Evaluate(ctx context.Context, script string, arg any) (json.RawMessage, error)
	Content(ctx context.Context) (string, error)
}

// Config bounds a scan.
type Config struct {
	MaxImages int
	MaxVideos int

	// Timeout caps one scan, fallback included. Zero means no limit.
	Timeout time.Duration

	// MarkupFallback re-runs the selection over the serialized document when
	// the in-page routine fails.
	MarkupFallback bool
}

// DefaultConfig returns the standard caps.
func DefaultConfig() Config {
	return Config{
		MaxImages:      DefaultMaxImages,
		MaxVideos:      DefaultMaxVideos,
		Timeout:        5 * time.Second,
		MarkupFallback: true,
	}
}

// Result is the outcome of one scan: either an inventory or the reason no
// inventory could be taken.
type Result struct {
	Inventory types.MediaInventory
	Reason    string
	ok        bool
}

// Ok wraps a successful inventory.
func Ok(inv types.MediaInventory) Result { return Result{Inventory: inv, ok: true} }

// Failed wraps a scan failure.
func Failed(reason string) Result { return Result{Reason: reason} }

// OK reports whether the scan produced an inventory.
func (r Result) OK() bool { return r.ok }

// Scanner runs bounded media scans.
type Scanner struct {
	cfg Config
	log *logging.Logger
}

// NewScanner creates a scanner. Non-positive caps fall back to the defaults.
func NewScanner(cfg Config, log *logging.Logger) *Scanner {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.MaxVideos <= 0 {
		cfg.MaxVideos = DefaultMaxVideos
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Scanner{cfg: cfg, log: log}
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config { return s.cfg }

type limits struct {
	MaxImages int `json:"maxImages"`
	MaxVideos int `json:"maxVideos"`
}

// Scan inventories the page currently loaded in t. It never panics and never
// returns an error; failures come back as a Failed result.
func (s *Scanner) Scan(ctx context.Context, t Target, pageURL string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Sprintf("scan panicked: %v", r))
		}
	}()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	inv, err := s.scanScript(ctx, t)
	if err == nil {
		inv.PageURL = pageURL
		return Ok(inv)
	}
	s.log.Debugf("inspection routine failed on %s: %v", pageURL, err)

	if !s.cfg.MarkupFallback {
		return Failed(err.Error())
	}
	inv, ferr := s.scanMarkup(ctx, t, pageURL)
	if ferr != nil {
		return Failed(fmt.Sprintf("%v; markup fallback: %v", err, ferr))
	}
	inv.PageURL = pageURL
	return Ok(inv)
}

func (s *Scanner) scanScript(ctx context.Context, t Target) (types.MediaInventory, error) {
	raw, err := t.Evaluate(ctx, scanScript, limits{MaxImages: s.cfg.MaxImages, MaxVideos: s.cfg.MaxVideos})
	if err != nil {
		return types.MediaInventory{}, fmt.Errorf("evaluate: %w", err)
	}
	return Decode(raw, s.cfg.MaxImages, s.cfg.MaxVideos)
}

func (s *Scanner) scanMarkup(ctx context.Context, t Target, pageURL string) (types.MediaInventory, error) {
	html, err := t.Content(ctx)
	if err != nil {
		return types.MediaInventory{}, fmt.Errorf("content: %w", err)
	}
	return ScanMarkup(html, pageURL, s.cfg.MaxImages, s.cfg.MaxVideos)
}

type rawEntry struct {
	Src        string   `json:"src"`
	Alternates []string `json:"alternates"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Alt        string   `json:"alt"`
}

type rawInventory struct {
	Images []rawEntry `json:"images"`
	Videos []rawEntry `json:"videos"`
}

// ErrNoResult is returned by Decode when the routine produced nothing.
var ErrNoResult = errors.New("inspection routine returned no result")

// Decode validates the routine's output and re-applies the caps. An entry
// whose source is not http(s) takes its first http(s) alternate instead; one
// without any is dropped and does not count toward the cap.
func Decode(raw json.RawMessage, maxImages, maxVideos int) (types.MediaInventory, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return types.MediaInventory{}, ErrNoResult
	}
	var in rawInventory
	if err := json.Unmarshal(raw, &in); err != nil {
		return types.MediaInventory{}, fmt.Errorf("decode inventory: %w", err)
	}
	return types.MediaInventory{
		Images: clean(in.Images, types.MediaKindImage, maxImages),
		Videos: clean(in.Videos, types.MediaKindVideo, maxVideos),
		Source: "script",
	}, nil
}

func clean(in []rawEntry, kind types.MediaKind, limit int) []types.MediaEntry {
	out := make([]types.MediaEntry, 0, min(len(in), limit))
	for _, e := range in {
		if len(out) >= limit {
			break
		}
		src, ok := sanitizeURL(e.Src)
		for i := 0; !ok && i < len(e.Alternates); i++ {
			src, ok = sanitizeURL(e.Alternates[i])
		}
		if !ok {
			continue
		}
		entry := types.MediaEntry{
			Kind:      kind,
			SourceURL: src,
			Width:     dimension(e.Width),
			Height:    dimension(e.Height),
			AltText:   truncate(strings.TrimSpace(e.Alt), maxAltText),
		}
		for _, alt := range e.Alternates {
			if len(entry.AlternateSources) >= maxAlternates {
				break
			}
			if u, ok := sanitizeURL(alt); ok && u != src {
				entry.AlternateSources = appendUnique(entry.AlternateSources, u)
			}
		}
		out = append(out, entry)
	}
	return out
}

func sanitizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxSourceURL {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func dimension(v float64) int {
	if v <= 0 || v > 1<<20 {
		return 0
	}
	return int(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
