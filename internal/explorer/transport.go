package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	xerrors "WChain-Bubbles/internal/errors"
)

const (
	defaultTimeout = 20 * time.Second
	maxErrorBody   = 2048
)

// transport carries the HTTP client, rate limiter and error mapping shared
// by the REST and GraphQL clients.
type transport struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

func newTransport(timeout time.Duration, rps float64, burst int, client *http.Client) transport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return transport{
		httpClient: client,
		limiter:    rate.NewLimiter(limit, burst),
		userAgent:  "wchain-bubbles/1.0",
	}
}

// do sends req and decodes a JSON body into out.
func (t transport) do(req *http.Request, out any) error {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return mapTransportError(err, req.URL.Path)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return mapTransportError(err, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, req.URL.Path, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return mapTransportError(err, req.URL.Path)
		}
		return xerrors.Wrap(xerrors.CodeMalformed, err, "decode explorer response", xerrors.WithMetadata("path", req.URL.Path))
	}
	return nil
}

func statusError(status int, path, body string) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("path", path),
		xerrors.WithMetadata("status", strconv.Itoa(status)),
	}
	cause := fmt.Errorf("status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.Wrap(xerrors.CodeRateLimited, cause, "explorer rate limit reached", opts...)
	case status == http.StatusNotFound:
		return xerrors.Wrap(xerrors.CodeNotFound, cause, "not found on explorer", opts...)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return xerrors.Wrap(xerrors.CodeTimeout, cause, "explorer timed out", opts...)
	default:
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, cause, "explorer request failed", opts...)
	}
}

func mapTransportError(err error, path string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "explorer request timed out", xerrors.WithMetadata("path", path))
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "explorer request failed", xerrors.WithMetadata("path", path))
}

// FlexInt decodes integers the explorer sends either as numbers or strings.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("flexint %q: %w", raw, err)
	}
	*f = FlexInt(n)
	return nil
}
