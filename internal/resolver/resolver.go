// Package resolver turns a faction name into a native system ID by driving
// the lookup client and extractor under a per-faction deadline.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/falconcharade/nativesys/internal/extract"
	"github.com/falconcharade/nativesys/internal/lookup"
	"github.com/falconcharade/nativesys/internal/resilience"
)

// Miss reasons.
const (
	ReasonSearchNotFound  = "not found (search)"
	ReasonDetailsNotFound = "details not found"
	ReasonNoLocation      = "no location field"
	ReasonTimeout         = "timeout"
)

// Policy bounds the work spent on a single faction.
type Policy struct {
	// MaxRetries is the number of detail page attempts.
	MaxRetries int
	// HardDeadline is measured from the start of ResolveOne and checked
	// before each attempt.
	HardDeadline time.Duration
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
}

// Outcome is the result for one faction. Exactly one of SystemID (with
// Resolved set) or Reason is meaningful.
type Outcome struct {
	Name     string
	Resolved bool
	Location string
	SystemID int64
	Flag     *bool
	Reason   string
	Attempts int
	Elapsed  time.Duration
}

// Searcher finds the detail page of a faction.
type Searcher interface {
	Search(ctx context.Context, name string) (addr string, found bool, err error)
}

// Fetcher downloads a detail page.
type Fetcher interface {
	FetchDetails(ctx context.Context, addr string) (body string, found bool, err error)
}

// Index maps a location name to its system ID.
type Index interface {
	Resolve(name string) (int64, bool)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	return resilience.Sleep(ctx, d)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Resolver resolves faction names one at a time.
type Resolver struct {
	search Searcher
	fetch  Fetcher
	fields extract.FieldSet
	index  Index
	clock  Clock
	log    *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger replaces the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New builds a Resolver.
func New(s Searcher, f Fetcher, fields extract.FieldSet, idx Index, opts ...Option) *Resolver {
	r := &Resolver{
		search: s,
		fetch:  f,
		fields: fields,
		index:  idx,
		clock:  RealClock,
		log:    zap.L(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// FromClient builds a Resolver backed by a lookup client and its source's
// field labels.
func FromClient(c *lookup.Client, idx Index, opts ...Option) *Resolver {
	return New(c, c, c.Source().Fields(), idx, opts...)
}

// ErrCanceled is returned when ctx ends while a faction is in progress. No
// outcome should be recorded for it.
var ErrCanceled = errors.New("resolve canceled")

// ResolveOne looks up name and maps its location through the index. Lookup
// faults are folded into a Miss outcome; the only error is cancellation.
func (r *Resolver) ResolveOne(ctx context.Context, name string, p Policy) (Outcome, error) {
	start := r.clock.Now()
	out, err := r.lookup(ctx, name, p, start)
	out.Name = name
	out.Elapsed = r.clock.Now().Sub(start)
	if err != nil {
		return out, err
	}
	if out.Reason != "" {
		return out, nil
	}

	id, ok := r.index.Resolve(out.Location)
	if !ok {
		out.Reason = fmt.Sprintf("location '%s' not in reference index", out.Location)
		return out, nil
	}
	out.SystemID = id
	out.Resolved = true
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, name string, p Policy, start time.Time) (Outcome, error) {
	addr, found, err := r.search.Search(ctx, name)
	if ctx.Err() != nil {
		return Outcome{}, ErrCanceled
	}
	if err != nil {
		return Outcome{Reason: "error: " + err.Error()}, nil
	}
	if !found {
		return Outcome{Reason: ReasonSearchNotFound}, nil
	}

	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	backoff := resilience.Linear{Base: p.RetryBackoff}

	var (
		lastFault string
		timedOut  bool
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if r.clock.Now().Sub(start) > p.HardDeadline {
			return Outcome{Reason: ReasonTimeout, Attempts: attempt - 1}, nil
		}

		body, found, err := r.fetch.FetchDetails(ctx, addr)
		if ctx.Err() != nil {
			return Outcome{}, ErrCanceled
		}
		switch {
		case err == nil && !found:
			return Outcome{Reason: ReasonDetailsNotFound, Attempts: attempt}, nil
		case err == nil:
			fields := extract.Extract(body, r.fields)
			if fields.Location == "" {
				return Outcome{Reason: ReasonNoLocation, Attempts: attempt}, nil
			}
			return Outcome{Location: fields.Location, Flag: fields.Flag, Attempts: attempt}, nil
		}

		timedOut = isTimeout(err)
		lastFault = err.Error()
		r.log.Debug("resolver: details attempt failed",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Bool("timeout", timedOut),
			zap.Error(err),
		)

		if attempt == maxRetries {
			break
		}
		// A backoff that would end past the deadline cannot lead to another
		// attempt, so the deadline check is applied now.
		wait := backoff.Delay(attempt)
		if r.clock.Now().Add(wait).Sub(start) > p.HardDeadline {
			return Outcome{Reason: ReasonTimeout, Attempts: attempt}, nil
		}
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return Outcome{}, ErrCanceled
		}
	}

	if timedOut {
		return Outcome{Reason: ReasonTimeout, Attempts: maxRetries}, nil
	}
	return Outcome{Reason: "error: " + lastFault, Attempts: maxRetries}, nil
}

func isTimeout(err error) bool {
	var te *lookup.TransportError
	if errors.As(err, &te) {
		return te.Timeout
	}
	return false
}
