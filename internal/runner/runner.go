// Package runner drives a resolve pass over an input list against the
// output log: it works out what is left to do, resolves each faction in
// turn with a pause between them, and closes the log once every faction has
// a terminal record.
package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/falconcharade/nativesys/internal/applog"
	"github.com/falconcharade/nativesys/internal/resolver"
)

// Resolver resolves a single faction.
type Resolver interface {
	ResolveOne(ctx context.Context, name string, p resolver.Policy) (resolver.Outcome, error)
}

// Options configures a pass.
type Options struct {
	Policy resolver.Policy
	// Delay is the pause between factions.
	Delay time.Duration
	// RetryMisses revisits only factions whose last record is a miss.
	RetryMisses bool
	// NoCommit suppresses the completion block.
	NoCommit bool
}

// Mode names the kind of pass.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeRetry  Mode = "retry-misses"
)

// Summary reports what a pass did.
type Summary struct {
	Mode Mode
	// Total is the number of input names.
	Total int
	// Skipped counts input names already settled before the pass.
	Skipped int
	// Pending is the size of the work set.
	Pending   int
	Processed int
	Updates   int
	Misses    int
	Committed bool
	// NothingToRetry is set when a retry pass found no prior misses.
	NothingToRetry bool
	// Interrupted is set when the context ended before the work set was
	// exhausted.
	Interrupted bool
	Duration    time.Duration
}

// Runner executes passes.
type Runner struct {
	log    *applog.Log
	res    Resolver
	clock  resolver.Clock
	logger *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock used for pacing.
func WithClock(c resolver.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger replaces the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner.
func New(log *applog.Log, res Resolver, opts ...Option) *Runner {
	r := &Runner{
		log:    log,
		res:    res,
		clock:  resolver.RealClock,
		logger: zap.L(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Plan computes the work set for names from the current log contents. In
// normal mode misses count as settled; in retry mode only factions with a
// miss and no later update are returned.
func Plan(st *applog.State, names []string, retry bool) (work []string, skipped int) {
	if !retry {
		settled := st.Settled(names, true)
		for _, n := range names {
			if settled.Has(n) {
				skipped++
				continue
			}
			work = append(work, n)
		}
		return work, skipped
	}

	prior := st.Misses(names)
	missed := make([]string, 0, len(prior))
	for n := range prior {
		missed = append(missed, n)
	}
	fixed := st.Settled(missed, false)
	for _, n := range names {
		if prior.Has(n) && !fixed.Has(n) {
			work = append(work, n)
		}
	}
	return work, len(names) - len(work)
}

// Run executes one pass. Per-faction lookup failures become miss records;
// the returned error is reserved for log I/O failures.
func (r *Runner) Run(ctx context.Context, names []string, o Options) (Summary, error) {
	start := r.clock.Now()
	sum := Summary{Mode: ModeNormal, Total: len(names)}
	if o.RetryMisses {
		sum.Mode = ModeRetry
	}

	if _, err := r.log.EnsureHeader(); err != nil {
		return sum, err
	}
	st, err := r.log.Scan()
	if err != nil {
		return sum, err
	}

	if o.RetryMisses && len(st.Misses(names)) == 0 {
		sum.NothingToRetry = true
		r.logger.Info("runner: no prior misses found, nothing to retry", zap.String("log", r.log.Path()))
		return sum, nil
	}

	work, skipped := Plan(st, names, o.RetryMisses)
	sum.Skipped = skipped
	sum.Pending = len(work)
	r.logger.Info("runner: starting pass",
		zap.String("mode", string(sum.Mode)),
		zap.Int("total", sum.Total),
		zap.Int("already_settled", skipped),
		zap.Int("pending", len(work)),
	)

	for i, name := range work {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		out, err := r.res.ResolveOne(ctx, name, o.Policy)
		if errors.Is(err, resolver.ErrCanceled) || (err != nil && ctx.Err() != nil) {
			sum.Interrupted = true
			break
		}
		if err != nil {
			return sum, err
		}

		if err := r.record(out, o.RetryMisses); err != nil {
			return sum, err
		}
		sum.Processed++
		if out.Resolved {
			sum.Updates++
		} else {
			sum.Misses++
		}
		r.progress(out, skipped+i+1, sum.Total, o.RetryMisses, i+1, len(work))

		if i < len(work)-1 {
			if err := r.clock.Sleep(ctx, o.Delay); err != nil {
				sum.Interrupted = true
				break
			}
		}
	}

	if !o.RetryMisses && !sum.Interrupted {
		committed, err := r.finalize(names, o.NoCommit)
		if err != nil {
			return sum, err
		}
		sum.Committed = committed
	}

	sum.Duration = r.clock.Now().Sub(start)
	r.logger.Info("runner: pass complete",
		zap.String("mode", string(sum.Mode)),
		zap.Int("updates", sum.Updates),
		zap.Int("misses", sum.Misses),
		zap.Int("skipped", sum.Skipped),
		zap.Bool("committed", sum.Committed),
		zap.Bool("interrupted", sum.Interrupted),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Runner) record(out resolver.Outcome, retry bool) error {
	if out.Resolved {
		return r.log.Append(applog.Success(out.Name, out.Location, out.SystemID, out.Flag, retry))
	}
	return r.log.Append(applog.Miss(out.Name, out.Reason, retry))
}

func (r *Runner) progress(out resolver.Outcome, pos, total int, retry bool, n, pending int) {
	fields := []zap.Field{zap.String("name", out.Name)}
	if retry {
		fields = append(fields, zap.Int("position", n), zap.Int("total", pending))
	} else {
		fields = append(fields, zap.Int("position", pos), zap.Int("total", total))
	}
	if out.Resolved {
		fields = append(fields,
			zap.String("location", out.Location),
			zap.Int64("system_id", out.SystemID),
			zap.Bool("player", out.Flag != nil && *out.Flag),
		)
		r.logger.Info("runner: resolved", fields...)
		return
	}
	fields = append(fields, zap.String("reason", out.Reason), zap.Duration("elapsed", out.Elapsed))
	r.logger.Info("runner: miss", fields...)
}

// finalize appends the completion block when every input name is settled
// and the log is not already committed.
func (r *Runner) finalize(names []string, noCommit bool) (bool, error) {
	if noCommit {
		return false, nil
	}
	committed, err := r.log.HasCommit()
	if err != nil || committed {
		return false, err
	}
	settled, err := r.log.ScanSettled(names, true)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if !settled.Has(n) {
			return false, nil
		}
	}
	if err := r.log.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
