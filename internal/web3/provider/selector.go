// Package provider selects a working RPC endpoint among ordered candidates
// and performs balance reads against it.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/internal/retry"
	"WChain-Bubbles/internal/web3"
	"WChain-Bubbles/pkg/logger"
)

// DefaultTTL is how long a verified endpoint is reused without probing.
const DefaultTTL = 5 * time.Minute

const entryKey = "endpoint"

// Entry is the cached result of a successful probe.
type Entry struct {
	URL        string    `json:"url"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Selector resolves the first live endpoint among its candidates and reuses
// it until the TTL lapses. Expiry only triggers a re-probe on the next
// Resolve call; nothing refreshes in the background.
type Selector struct {
	candidates []string
	prober     web3.Prober
	policy     retry.Policy
	ttl        time.Duration
	entries    *gocache.Cache
	group      singleflight.Group
	now        func() time.Time
}

// SelectorOption customises a Selector.
type SelectorOption func(*Selector)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) SelectorOption {
	return func(s *Selector) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithProbePolicy overrides retry.ProbePolicy.
func WithProbePolicy(p retry.Policy) SelectorOption {
	return func(s *Selector) {
		s.policy = p
	}
}

// WithEntryCache shares a TTL cache with the selector.
func WithEntryCache(c *gocache.Cache) SelectorOption {
	return func(s *Selector) {
		if c != nil {
			s.entries = c
		}
	}
}

// NewSelector builds a selector over ordered candidates.
func NewSelector(candidates []string, prober web3.Prober, opts ...SelectorOption) (*Selector, error) {
	cleaned := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "at least one rpc candidate is required")
	}
	if prober == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "prober is required")
	}
	s := &Selector{
		candidates: cleaned,
		prober:     prober,
		policy:     retry.ProbePolicy(),
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.entries == nil {
		s.entries = gocache.New(s.ttl, 2*s.ttl)
	}
	return s, nil
}

// Candidates returns the probing order.
func (s *Selector) Candidates() []string {
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Entry returns the cached endpoint, if one is still valid.
func (s *Selector) Entry() (Entry, bool) {
	v, ok := s.entries.Get(entryKey)
	if !ok {
		return Entry{}, false
	}
	entry, ok := v.(Entry)
	return entry, ok
}

// Resolve returns a live endpoint URL. Concurrent callers during a probe
// share its outcome. The shared probe ignores any single caller's
// cancellation and is bounded by the probe policy's budget instead; a
// cancelled caller stops waiting without affecting the others.
func (s *Selector) Resolve(ctx context.Context) (string, error) {
	if entry, ok := s.Entry(); ok {
		return entry.URL, nil
	}
	ch := s.group.DoChan(entryKey, func() (any, error) {
		if entry, ok := s.Entry(); ok {
			return entry, nil
		}
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget())
		defer cancel()
		return s.probeAll(probeCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Entry).URL, nil
	case <-ctx.Done():
		return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "endpoint resolution cancelled")
	}
}

func (s *Selector) budget() time.Duration {
	return s.policy.Budget() * time.Duration(len(s.candidates))
}

func (s *Selector) probeAll(ctx context.Context) (Entry, error) {
	log := logger.Named("endpoint")
	var failures []error
	for _, url := range s.candidates {
		if err := ctx.Err(); err != nil {
			return Entry{}, xerrors.Wrap(xerrors.CodeTimeout, err, "endpoint resolution cancelled")
		}
		start := s.now()
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			return s.prober.Probe(ctx, url)
		})
		if err != nil {
			metrics.ObserveEndpointProbe("failure", time.Since(start))
			log.Warn("rpc candidate failed", "url", url, "error", err)
			failures = append(failures, err)
			continue
		}
		metrics.ObserveEndpointProbe("success", time.Since(start))
		entry := Entry{URL: url, VerifiedAt: s.now()}
		s.entries.Set(entryKey, entry, s.ttl)
		log.Info("rpc endpoint selected", "url", url)
		return entry, nil
	}
	return Entry{}, xerrors.Wrap(xerrors.CodeUnavailable, errors.Join(failures...), "no endpoint available")
}
