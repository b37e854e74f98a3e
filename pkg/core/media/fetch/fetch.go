// Package fetch resolves media locators to local files. Local paths pass
// through; http(s) URLs are downloaded once into a cache directory; s3://
// locators are fetched with the AWS SDK.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vango-go/vai-agent/pkg/core/media"
)

// ObjectGetter is the subset of *s3.Client used for s3:// locators.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	// CacheDir receives downloaded media. Defaults to a directory under
	// os.TempDir().
	CacheDir string

	HTTPClient *http.Client

	// S3 is required for s3:// locators.
	S3 ObjectGetter

	// Timeout bounds one download. Defaults to 5m.
	Timeout time.Duration
	// MaxBytes caps a download. Defaults to 2 GiB.
	MaxBytes int64

	Logger *slog.Logger
}

// Resolver maps locators to local paths. Concurrent resolutions of the same
// remote locator share one download.
type Resolver struct {
	cacheDir   string
	httpClient *http.Client
	s3         ObjectGetter
	timeout    time.Duration
	maxBytes   int64
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]*download
}

type download struct {
	done chan struct{}
	path string
	err  error
}

func NewResolver(cfg Config) *Resolver {
	dir := strings.TrimSpace(cfg.CacheDir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "vai-agent-media")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 30
	}
	return &Resolver{
		cacheDir:   dir,
		httpClient: client,
		s3:         cfg.S3,
		timeout:    timeout,
		maxBytes:   maxBytes,
		logger:     logger,
		inflight:   make(map[string]*download),
	}
}

// Resolve returns a local path for locator. Missing resources wrap
// media.ErrNotFound; other fetch failures wrap media.ErrUnreadable.
func (r *Resolver) Resolve(ctx context.Context, locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty locator", media.ErrNotFound)
	}
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return locator, nil
	}
	switch u.Scheme {
	case "file":
		return u.Path, nil
	case "http", "https", "s3":
		return r.cached(ctx, locator, u)
	default:
		return "", fmt.Errorf("%w: unsupported locator scheme %q", media.ErrUnreadable, u.Scheme)
	}
}

// Opener wraps next so that locators are resolved before opening.
func (r *Resolver) Opener(next media.Opener) media.Opener {
	return media.OpenerFunc(func(ctx context.Context, locator string) (media.Source, error) {
		p, err := r.Resolve(ctx, locator)
		if err != nil {
			return nil, err
		}
		return next.Open(ctx, p)
	})
}

func (r *Resolver) cached(ctx context.Context, locator string, u *url.URL) (string, error) {
	dest := filepath.Join(r.cacheDir, cacheName(locator, u))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, nil
	}

	r.mu.Lock()
	if d, ok := r.inflight[dest]; ok {
		r.mu.Unlock()
		select {
		case <-d.done:
			return d.path, d.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		r.mu.Unlock()
		return dest, nil
	}
	d := &download{done: make(chan struct{})}
	r.inflight[dest] = d
	r.mu.Unlock()

	// The download belongs to every waiter, not to the caller that started it.
	go func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		d.path, d.err = r.fetch(dctx, locator, u, dest)

		r.mu.Lock()
		delete(r.inflight, dest)
		r.mu.Unlock()
		close(d.done)
	}()

	select {
	case <-d.done:
		return d.path, d.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, locator string, u *url.URL, dest string) (string, error) {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create cache dir: %v", media.ErrUnreadable, err)
	}

	var body io.ReadCloser
	var err error
	if u.Scheme == "s3" {
		body, err = r.openS3(ctx, u)
	} else {
		body, err = r.openHTTP(ctx, locator)
	}
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(r.cacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", media.ErrUnreadable, err)
	}
	n, copyErr := io.Copy(tmp, io.LimitReader(body, r.maxBytes+1))
	closeErr := tmp.Close()
	if copyErr == nil && n > r.maxBytes {
		copyErr = fmt.Errorf("larger than %d bytes", r.maxBytes)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: download %s: %v", media.ErrUnreadable, locator, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: store download: %v", media.ErrUnreadable, err)
	}
	r.logger.Info("fetch: media downloaded", "locator", locator, "path", dest, "bytes", n)
	return dest, nil
}

func (r *Resolver) openHTTP(ctx context.Context, locator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", media.ErrUnreadable, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", media.ErrUnreadable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", media.ErrNotFound, locator)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s (status %d)", media.ErrUnreadable, locator, resp.StatusCode)
	case resp.ContentLength > r.maxBytes:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", media.ErrUnreadable, locator, resp.ContentLength, r.maxBytes)
	}
	return resp.Body, nil
}

func (r *Resolver) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if r.s3 == nil {
		return nil, fmt.Errorf("%w: s3 client is not configured", media.ErrUnreadable)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 locator needs bucket and key", media.ErrNotFound)
	}
	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", media.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", media.ErrUnreadable, bucket, key, err)
	}
	return out.Body, nil
}

// cacheName is stable per locator and keeps the original extension so
// decoders can sniff the container.
func cacheName(locator string, u *url.URL) string {
	sum := sha256.Sum256([]byte(locator))
	name := hex.EncodeToString(sum[:12])
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 8 {
		name += ext
	}
	return name
}
