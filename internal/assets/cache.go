// Package assets maintains a local cache of model files (piper voices,
// whisper weights) downloaded on first use.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrDownloadFailed wraps any failure to fetch a missing asset.
var ErrDownloadFailed = errors.New("asset download failed")

// Cache resolves asset names to local files, fetching them from baseURL when
// absent. Concurrent Ensure calls for the same name are serialized so the
// file is downloaded at most once; calls for different names do not block
// each other.
type Cache struct {
	dir     string
	baseURL string
	client  *http.Client
	log     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// OnDownload is invoked after each completed download attempt with the
	// asset name and outcome. Used for metrics; may be nil.
	OnDownload func(name string, err error)
}

func New(dir, baseURL string, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
		log:     logger.With("component", "assets"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Ensure returns the local path of the named asset, downloading it first if
// the cache does not already hold a non-empty copy.
func (c *Cache) Ensure(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid asset name %q", ErrDownloadFailed, name)
	}

	l := c.lockFor(name)
	l.Lock()
	defer l.Unlock()

	path := filepath.Join(c.dir, name)
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return path, nil
	}

	err := c.download(ctx, name, path)
	if c.OnDownload != nil {
		c.OnDownload(name, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDownloadFailed, name, err)
	}
	return path, nil
}

func (c *Cache) lockFor(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	return l
}

func (c *Cache) download(ctx context.Context, name, path string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	url := c.baseURL + "/" + name
	c.log.Info("downloading asset", "name", name, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Download to a scratch file and rename so a partial fetch never shows
	// up as a usable asset.
	tmp := path + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := copyWithContext(ctx, f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	c.log.Info("asset ready", "name", name, "path", path)
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
