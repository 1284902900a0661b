package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrFetch is returned for failed artifact downloads.
var ErrFetch = errors.New("artifact fetch failed")

// Progress reports download advancement. Total is 0 when unknown.
type Progress struct {
	Loaded  int64
	Total   int64
	Percent float64
	Message string
}

// ProgressFunc receives throttled progress updates during a download.
type ProgressFunc func(Progress)

// Provider fetches proving artifacts. Implementations cache; CheckCache and
// ClearCache expose the cache to the worker protocol.
type Provider interface {
	FetchWithProgress(ctx context.Context, url string, cb ProgressFunc) ([]byte, error)
	CheckCache(url string) bool
	ClearCache() error
}

// Cache is a content-addressed on-disk Provider. Entries are named by the
// SHA-256 of their URL; large proving keys survive process restarts.
type Cache struct {
	dir    string
	client *http.Client

	// minimum interval between progress callbacks
	throttle time.Duration
}

func NewCache(dir string) *Cache {
	return &Cache{
		dir:      dir,
		client:   &http.Client{},
		throttle: 250 * time.Millisecond,
	}
}

func (c *Cache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

func (c *Cache) CheckCache(url string) bool {
	info, err := os.Stat(c.path(url))
	return err == nil && info.Size() > 0
}

func (c *Cache) ClearCache() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clearing artifact cache: %v", err)
	}
	return nil
}

// FetchWithProgress returns the artifact bytes, downloading on cache miss.
// Progress callbacks are throttled, not per-read.
func (c *Cache) FetchWithProgress(ctx context.Context, url string, cb ProgressFunc) ([]byte, error) {
	path := c.path(url)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		log.Debug().Str("url", url).Int("bytes", len(data)).Msg("Artifact cache hit")
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s for %s", ErrFetch, resp.Status, url)
	}

	data, err := c.readAll(resp.Body, resp.ContentLength, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %v", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache entry: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("committing cache entry: %v", err)
	}

	log.Info().Str("url", url).Int("bytes", len(data)).Msg("Artifact downloaded and cached")
	return data, nil
}

func (c *Cache) readAll(r io.Reader, total int64, cb ProgressFunc) ([]byte, error) {
	var data []byte
	buf := make([]byte, 1<<20)
	last := time.Time{}

	for {
		n, err := r.Read(buf)
		data = append(data, buf[:n]...)

		if cb != nil && (time.Since(last) >= c.throttle || err == io.EOF) {
			p := Progress{Loaded: int64(len(data)), Total: total, Message: "downloading"}
			if total > 0 {
				p.Percent = float64(p.Loaded) / float64(total) * 100
			}
			cb(p)
			last = time.Now()
		}

		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
