// Package cookies reads the session's partitioned cookie store and serialises
// it for the external archival service.
package cookies

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"golang.org/x/net/publicsuffix"
)

// FileHeader opens every cookie file written by WriteFile.
const FileHeader = "# Netscape HTTP Cookie File\n"

// Record is one cookie of the partitioned store.
type Record struct {
	Domain            string `json:"domain"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
	Path              string `json:"path"`
	Secure            bool   `json:"secure"`
	// ExpiresAt is seconds since the epoch, 0 for session cookies.
	ExpiresAt int64  `json:"expiresAtEpochSeconds"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

// FromEngine converts an engine cookie.
func FromEngine(c engine.Cookie) Record {
	var expires int64
	if !c.Session && c.Expires > 0 {
		expires = int64(c.Expires)
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return Record{
		Domain:            c.Domain,
		IncludeSubdomains: strings.HasPrefix(c.Domain, "."),
		Path:              path,
		Secure:            c.Secure,
		ExpiresAt:         expires,
		Name:              c.Name,
		Value:             c.Value,
	}
}

// Source reads the partitioned cookie store of the live session.
type Source interface {
	Cookies(ctx context.Context) ([]engine.Cookie, error)
}

// Exporter is the CookieExporter.
type Exporter struct {
	src     Source
	log     *logging.Logger
	metrics *metrics.Collector
}

// NewExporter creates an exporter reading from src.
func NewExporter(src Source, log *logging.Logger, m *metrics.Collector) *Exporter {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Exporter{src: src, log: log, metrics: m}
}

// GetCookies returns the cookies set for domain or any of its subdomains.
// It never fails: a missing session, a store error or a domain that is a
// public suffix all yield an empty list.
func (e *Exporter) GetCookies(ctx context.Context, domain string) []Record {
	host, ok := e.filterDomain(domain)
	if !ok {
		return []Record{}
	}

	all, err := e.src.Cookies(ctx)
	if err != nil {
		e.log.Infof("cookie query for %s returned nothing: %v", host, err)
		return []Record{}
	}

	out := make([]Record, 0, len(all))
	for _, c := range all {
		if Matches(c.Domain, host) {
			out = append(out, FromEngine(c))
		}
	}
	e.log.Debugf("%d of %d cookies match %s", len(out), len(all), host)
	return out
}

// ExportForArchival returns the cookies of domain in the tab-separated
// format. No cookies export to "".
func (e *Exporter) ExportForArchival(ctx context.Context, domain string) string {
	records := e.GetCookies(ctx, domain)
	if len(records) > 0 {
		e.metrics.CookieExport()
	}
	return Format(records)
}

func (e *Exporter) filterDomain(domain string) (string, bool) {
	host := NormalizeDomain(domain)
	if host == "" {
		e.log.Warnf("cookie query without a domain refused")
		return "", false
	}
	// Refuse a bare public suffix: it would match every site's cookies.
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		e.log.Warnf("cookie query for %q refused: %v", host, err)
		return "", false
	}
	return host, true
}

// NormalizeDomain reduces a domain or URL to a lower-case host without a
// leading dot or port.
func NormalizeDomain(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Hostname()
		}
	} else if i := strings.IndexAny(d, "/:"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, ".")
	return strings.TrimSuffix(d, ".")
}

// Matches reports whether a cookie stored for cookieDomain belongs to host:
// the same host or a subdomain of it.
func Matches(cookieDomain, host string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	return cd == host || strings.HasSuffix(cd, "."+host)
}

// Format serialises records one per line, fields tab-separated in the order
// domain, include-subdomains, path, secure, expiry, name, value. Domains
// always carry a leading dot, so include-subdomains is always TRUE.
func Format(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range records {
		domain := r.Domain
		if !strings.HasPrefix(domain, ".") {
			domain = "." + domain
		}
		b.WriteString(strings.Join([]string{
			domain,
			flag(true),
			r.Path,
			flag(r.Secure),
			strconv.FormatInt(r.ExpiresAt, 10),
			r.Name,
			r.Value,
		}, "\t"))
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func flag(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// WriteFile writes an export to path with the cookie file header, readable
// by the owner only.
func WriteFile(path, export string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cookie file directory: %w", err)
	}

	content := FileHeader
	if export != "" {
		content += "\n" + export + "\n"
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(content), 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(tempPath, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to restrict cookie file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename cookie file: %w", err)
	}
	return nil
}
