package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"lifeflow/internal/fsutil"
	appLog "lifeflow/internal/log"
)

var (
	// ErrUnexpectedStatus is returned for a non-200/304 response when no
	// cached body is available.
	ErrUnexpectedStatus = errors.New("ics: unexpected HTTP status")
	// ErrNoURL is returned for a feed configured without a URL.
	ErrNoURL = errors.New("ics: feed has no URL")
	// ErrFeedTooLarge is returned when a feed body exceeds maxFeedBytes.
	ErrFeedTooLarge = errors.New("ics: feed body too large")
)

// maxFeedBytes bounds a single feed download.
const maxFeedBytes = 16 << 20

var unsafeIDRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Source is one subscribed calendar.
type Source struct {
	// ID is the config feed ID. It names the feed's cache directory and
	// prefixes the IDs of stories expanded from it.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult is the outcome for one source. Exactly one of Body and Err
// is set.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
	// Stale is set when Body came from the cache because the server could
	// not be reached or answered with an error.
	Stale bool
	Err   error
}

// feedCache is the on-disk validator record for one feed.
type feedCache struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests, keeping the last good
// body of every feed in cacheDir/<feed>/.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every source in order and returns one result per source.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []FetchResult {
	results := make([]FetchResult, 0, len(sources))
	for _, src := range sources {
		res := f.FetchOne(ctx, src)
		if res.Err != nil {
			appLog.Error("ics fetch failed", res.Err, "feed", src.ID, "url", redactURL(src.URL))
		}
		results = append(results, res)
	}
	return results
}

// FetchOne fetches a single source. A 304 reuses the cached body. A
// network error or an error status falls back to the cached body, marked
// Stale. A cache written for a different URL of the same feed is ignored.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) FetchResult {
	res := FetchResult{Source: src}
	if src.URL == "" {
		res.Err = ErrNoURL
		return res
	}

	dir := f.cacheDirFor(src)
	cache, body := f.readCache(dir, src.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Accept", "text/calendar")
	req.Header.Set("User-Agent", "lifeflow")
	if cache.ETag != "" {
		req.Header.Set("If-None-Match", cache.ETag)
	}
	if cache.LastModified != "" {
		req.Header.Set("If-Modified-Since", cache.LastModified)
	}

	stale := func(cause error) FetchResult {
		if len(body) == 0 {
			res.Err = cause
			return res
		}
		appLog.Warn("ics feed unavailable; serving cached copy", "feed", src.ID, "url", redactURL(src.URL), "err", cause)
		res.Body, res.FromCache, res.Stale = body, true, true
		return res
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return stale(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fresh, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return stale(err)
		}
		if len(fresh) > maxFeedBytes {
			return stale(ErrFeedTooLarge)
		}
		next := feedCache{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeCache(dir, next, fresh); err != nil {
			appLog.Error("ics cache save failed", err, "feed", src.ID)
		}
		appLog.Debug("ics feed fetched", "feed", src.ID, "bytes", len(fresh))
		res.Body = fresh
		return res

	case http.StatusNotModified:
		if len(body) == 0 {
			res.Err = fmt.Errorf("%w: 304 without a cached body", ErrUnexpectedStatus)
			return res
		}
		appLog.Debug("ics feed not modified", "feed", src.ID)
		res.Body, res.FromCache = body, true
		return res

	default:
		return stale(fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status))
	}
}

// cacheDirFor names a feed's cache directory after its ID, reduced to
// filename-safe characters, plus a short hash so distinct IDs never share
// a directory. Feeds without an ID fall back to the URL.
func (f *Fetcher) cacheDirFor(src Source) string {
	key := src.ID
	if key == "" {
		key = src.URL
	}
	sum := sha256.Sum256([]byte(key))
	slug := unsafeIDRe.ReplaceAllString(src.ID, "_")
	if slug == "" || slug == "_" {
		slug = "feed"
	}
	return filepath.Join(f.cacheDir, slug+"-"+hex.EncodeToString(sum[:4]))
}

// readCache returns the cached validators and body for rawURL. Anything
// unreadable, or cached for another URL, yields an empty cache.
func (f *Fetcher) readCache(dir, rawURL string) (feedCache, []byte) {
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return feedCache{}, nil
	}
	var meta feedCache
	if err := json.Unmarshal(data, &meta); err != nil || meta.URL != rawURL {
		return feedCache{}, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return feedCache{}, nil
	}
	return meta, body
}

// writeCache stores the body before the validators, so the validators
// never describe a body that is not on disk.
func writeCache(dir string, meta feedCache, body []byte) error {
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, "body.ics"), body, 0o600, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, "meta.json"), data, 0o600, 0o700)
}

// redactURL keeps only the scheme and host of a feed URL for logging;
// private calendar links often carry tokens in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
