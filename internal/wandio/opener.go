// Package wandio opens reference data as byte streams regardless of where it
// lives or how it is compressed.
//
// Supported locations are local paths, file:// URLs, http(s):// URLs and
// s3://bucket/key objects. Content ending in .gz, .zst or .bz2 is
// decompressed transparently.
package wandio

import (
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	defaultHTTPTimeout = 5 * time.Minute
)

var (
	ErrS3NotConfigured = errors.New("s3 client is not configured")
	ErrUnsupportedURL  = errors.New("unsupported url scheme")
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Logger     *slog.Logger
	HTTPClient HTTPClient
	S3         ObjectGetter
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		}
	}
	return nil
}

type Opener struct {
	log *slog.Logger
	cfg Config
}

func NewOpener(cfg Config) (*Opener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Opener{log: cfg.Logger, cfg: cfg}, nil
}

// Open returns a reader over the decompressed content at location.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	raw, name, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}
	o.log.Debug("wandio: opened", "location", location)

	rc, err := decompress(raw, name)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to decompress %s: %w", location, err)
	}
	return rc, nil
}

func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, string, error) {
	if !strings.Contains(location, "://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", location, err)
		}
		return f, location, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", location, err)
	}

	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", location, err)
		}
		return f, u.Path, nil
	case "http", "https":
		body, err := o.openHTTP(ctx, location)
		return body, u.Path, err
	case "s3":
		body, err := o.openS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		return body, u.Path, err
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedURL, u.Scheme)
	}
}

func (o *Opener) openHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status %d", location, resp.StatusCode)
	}
	return resp.Body, nil
}

func (o *Opener) openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if o.cfg.S3 == nil {
		return nil, ErrS3NotConfigured
	}
	out, err := o.cfg.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decompress(raw io.ReadCloser, name string) (io.ReadCloser, error) {
	switch path.Ext(name) {
	case ".gz":
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case ".zst":
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), raw}}, nil
	case ".bz2":
		return &readCloser{Reader: bzip2.NewReader(raw), closers: []io.Closer{raw}}, nil
	default:
		return raw, nil
	}
}

// IsS3 reports whether location refers to an S3 object.
func IsS3(location string) bool {
	return strings.HasPrefix(location, "s3://")
}
