// Package fetcher acquires source snapshots over HTTP or FTP, unpacks ZIP
// archives and parses CSV, XLSX and JSON files into header/row tables.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote snapshot.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures the fetchers returned by ForURL.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	RatePerHost float64
}

// IsRemote reports whether location is an http(s) or ftp URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// ForURL returns the fetcher for the URL scheme.
func ForURL(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse %s", rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPFetcher(HTTPOptions{
			UserAgent:   opts.UserAgent,
			Timeout:     opts.Timeout,
			MaxRetries:  opts.MaxRetries,
			RatePerHost: opts.RatePerHost,
		}), nil
	case "ftp":
		return NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// CacheName returns the file name a remote snapshot is cached under: the
// last path segment of the URL, prefixed by source.
func CacheName(source, rawURL string) string {
	base := "snapshot"
	if u, err := url.Parse(rawURL); err == nil {
		if b := filepath.Base(u.Path); b != "." && b != "/" && b != "" {
			base = b
		}
	}
	return source + "_" + base
}

// writeAtomic copies r into path through a temporary sibling file so a
// failed download never leaves a truncated snapshot behind.
func writeAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "fetcher: create directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return n, eris.Wrap(err, "fetcher: rename file")
	}
	return n, nil
}
