package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/markis/firehose/internal/config"
	"github.com/markis/firehose/internal/stream"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4096

var (
	// ErrMissingToken is returned when no bearer token is configured.
	ErrMissingToken = errors.New("no bearer token configured")
	// ErrStalled is returned when the stream sends nothing, not even a
	// keep-alive, for longer than the stall timeout.
	ErrStalled = errors.New("stream stalled")
	// errStreamEnded marks a connection the server closed without error.
	errStreamEnded = errors.New("stream closed by server")
)

// StatusError is returned when the stream endpoint answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream request failed with status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether reconnecting cannot succeed without a config change.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusNotAcceptable, http.StatusRequestEntityTooLarge,
		http.StatusRequestedRangeNotSatisfiable:
		return true
	}
	return false
}

// Sink consumes the body of a stream connection.
type Sink interface {
	Process(ctx context.Context, r io.Reader) error
	Reset()
}

// StreamClient opens long-lived streaming connections.
type StreamClient struct {
	cfg        config.Config
	log        *zap.Logger
	httpClient *http.Client
}

// New creates a StreamClient. A nil logger discards output.
func New(cfg config.Config, log *zap.Logger) *StreamClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		cfg:        cfg,
		log:        log,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// newHTTPClient returns a client without an overall timeout: stream
// responses never finish on their own. Stalls are detected per read instead.
func newHTTPClient(dialTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: dialTimeout,
		DisableCompression:    false,
		ForceAttemptHTTP2:     true,
	}

	transport.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}
}

// defaultHeaders returns the headers sent with every stream request.
func (c *StreamClient) defaultHeaders() map[string]string {
	return map[string]string{
		"Accept":        "*/*",
		"User-Agent":    c.cfg.UserAgent,
		"Authorization": "Bearer " + c.cfg.BearerToken,
	}
}

// BuildEndpoint resolves path against base. A full URL is used as is;
// otherwise the path is joined to base and given a .json extension.
func BuildEndpoint(base, path string) string {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return strings.TrimSuffix(path, "/")
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint := strings.TrimSuffix(strings.TrimSuffix(base, "/")+path, "/")
	if !strings.HasSuffix(endpoint, ".json") {
		endpoint += ".json"
	}
	return endpoint
}

// Connect opens one stream connection and feeds its body to sink until the
// server closes it, the connection fails or ctx is done.
func (c *StreamClient) Connect(ctx context.Context, path string, params url.Values, sink Sink) error {
	_, err := c.connect(ctx, path, params, sink)
	if errors.Is(err, errStreamEnded) {
		return nil
	}
	return err
}

// connect reports whether the connection delivered at least one complete
// frame alongside the reason it ended.
func (c *StreamClient) connect(ctx context.Context, path string, params url.Values, sink Sink) (bool, error) {
	if c.cfg.BearerToken == "" {
		return false, ErrMissingToken
	}

	endpoint := BuildEndpoint(c.cfg.StreamBase, path)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.defaultHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Debug("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			c.log.Debug("failed to read error response body", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		return false, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	c.log.Info("stream connected", zap.String("endpoint", endpoint))

	fr := &frameReader{r: resp.Body}
	var body io.Reader = fr
	if c.cfg.StallTimeout > 0 {
		sr := newStallReader(fr, c.cfg.StallTimeout, func() { cancel(ErrStalled) })
		defer sr.stop()
		body = sr
	}

	err = sink.Process(ctx, body)
	if errors.Is(context.Cause(ctx), ErrStalled) {
		return fr.framed, ErrStalled
	}
	if err != nil {
		return fr.framed, err
	}
	return fr.framed, errStreamEnded
}

// Run keeps a stream connected, reconnecting with exponential backoff until
// ctx is done or the server rejects the request permanently. The sink's
// partial frame is dropped before every connection. The backoff only starts
// over after a connection that delivered a frame. Cancellation returns nil.
func (c *StreamClient) Run(ctx context.Context, path string, params url.Values, sink Sink) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Reconnect.InitialInterval
	b.MaxInterval = c.cfg.Reconnect.MaxInterval
	b.MaxElapsedTime = c.cfg.Reconnect.MaxElapsed
	b.Reset()

	operation := func() error {
		sink.Reset()
		delivered, err := c.connect(ctx, path, params, sink)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if delivered {
			b.Reset()
		}

		var statusErr *StatusError
		switch {
		case errors.Is(err, ErrMissingToken):
			return backoff.Permanent(err)
		case errors.As(err, &statusErr) && statusErr.Permanent():
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// frameReader records whether a frame delimiter has passed through it.
type frameReader struct {
	r      io.Reader
	framed bool
	prev   byte
}

func (f *frameReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if !f.framed && n > 0 {
		for _, b := range p[:n] {
			if f.prev == stream.Delimiter[0] && b == stream.Delimiter[1] {
				f.framed = true
				break
			}
			f.prev = b
		}
	}
	return n, err
}

// stallReader cancels the connection when no bytes arrive within timeout.
type stallReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newStallReader(r io.Reader, timeout time.Duration, onStall func()) *stallReader {
	return &stallReader{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onStall),
	}
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.timeout)
	}
	return n, err
}

func (s *stallReader) stop() {
	s.timer.Stop()
}
