package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
)

// userAgent identifies the supervisor to upstream APIs. Modrinth and Mojang
// both ask for a contactable agent string.
const userAgent = "msm (+https://github.com/craftd/msm)"

// Digest is an expected checksum for a downloaded artifact.
type Digest struct {
	Algo string // md5, sha1, sha256 or sha512
	Hex  string
}

// Options tunes retry and timeout behavior.
type Options struct {
	// MaxAttempts is the total number of tries per request.
	MaxAttempts int
	// AttemptTimeout bounds a single HTTP attempt.
	AttemptTimeout time.Duration
	// OverallTimeout bounds one Download end to end, retries included.
	OverallTimeout time.Duration
}

// DefaultOptions returns the standard fetch tuning.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		AttemptTimeout: 60 * time.Second,
		OverallTimeout: 10 * time.Minute,
	}
}

// Client downloads artifacts and queries JSON APIs with retries. Transient
// failures back off exponentially from one second with jitter, so parallel
// fetches against the same mirror do not retry in lockstep.
type Client struct {
	http    *retryablehttp.Client
	overall time.Duration
}

// New creates a fetch client. Zero values in opts fall back to defaults.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = def.OverallTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxAttempts - 1
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Backoff = jitterBackoff
	rc.HTTPClient = &http.Client{Timeout: opts.AttemptTimeout}
	rc.Logger = leveledLogger{log.WithComponent("fetch")}

	return &Client{http: rc, overall: opts.OverallTimeout}
}

// Download fetches url into destPath. The body streams into destPath+".part"
// and is renamed into place only after the digest checks out, so a partial
// or corrupt transfer never lands under the final name. A nil expected skips
// verification but still rejects empty bodies.
func (c *Client) Download(ctx context.Context, url, destPath string, expected *Digest) error {
	ctx, cancel := context.WithTimeout(ctx, c.overall)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return apierr.Resourcef(err, "failed to create directory for %s", destPath)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierr.Validation("url", fmt.Sprintf("invalid download url: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Resourcef(err, "download failed: %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apierr.Resourcef(nil, "download failed: %s returned %s", url, resp.Status)
	}

	partPath := destPath + ".part"
	written, sum, err := c.writePart(partPath, resp.Body, expected)
	metrics.FetchBytes.Add(float64(written))
	if err != nil {
		os.Remove(partPath)
		return err
	}

	if written == 0 {
		os.Remove(partPath)
		return apierr.Resourcef(nil, "download failed: %s returned an empty body", url)
	}

	if expected != nil && sum != expected.Hex {
		os.Remove(partPath)
		return apierr.DigestMismatch(url, expected.Algo, expected.Hex, sum)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return apierr.Resourcef(err, "failed to finalize %s", destPath)
	}
	return nil
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierr.Validation("url", fmt.Sprintf("invalid url: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Resourcef(err, "request failed: %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apierr.NotFound("upstream resource")
	}
	if resp.StatusCode != http.StatusOK {
		return apierr.Resourcef(nil, "request failed: %s returned %s", url, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Resourcef(err, "failed to decode response from %s", url)
	}
	return nil
}

// writePart streams body to path while hashing. It returns the byte count
// and, when expected is set, the hex digest of what was written.
func (c *Client) writePart(path string, body io.Reader, expected *Digest) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", apierr.Resourcef(err, "failed to create %s", path)
	}

	var (
		dst io.Writer = f
		h   hash.Hash
	)
	if expected != nil {
		h, err = hasherFor(expected.Algo)
		if err != nil {
			f.Close()
			return 0, "", err
		}
		dst = io.MultiWriter(f, h)
	}

	written, err := io.Copy(dst, body)
	if err != nil {
		f.Close()
		return 0, "", apierr.Resourcef(err, "transfer interrupted after %d bytes", written)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, "", apierr.Resourcef(err, "failed to sync %s", path)
	}
	if err := f.Close(); err != nil {
		return 0, "", apierr.Resourcef(err, "failed to flush %s", path)
	}

	sum := ""
	if h != nil {
		sum = hex.EncodeToString(h.Sum(nil))
	}
	return written, sum, nil
}

func hasherFor(algo string) (hash.Hash, error) {
	switch algo {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, apierr.Validation("digest", fmt.Sprintf("unsupported digest algorithm %q", algo))
	}
}

// jitterBackoff spreads the default exponential backoff by ±20%.
func jitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	d := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}

// leveledLogger adapts zerolog to retryablehttp's leveled logging interface.
type leveledLogger struct {
	l zerolog.Logger
}

func (a leveledLogger) Error(msg string, kv ...interface{}) { a.emit(a.l.Error(), msg, kv) }
func (a leveledLogger) Warn(msg string, kv ...interface{})  { a.emit(a.l.Warn(), msg, kv) }
func (a leveledLogger) Info(msg string, kv ...interface{})  { a.emit(a.l.Debug(), msg, kv) }
func (a leveledLogger) Debug(msg string, kv ...interface{}) { a.emit(a.l.Debug(), msg, kv) }

func (a leveledLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
