package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brownsville-complaints/internal/dataset"
	"github.com/brownsville-complaints/internal/debug"
	"github.com/brownsville-complaints/internal/geocode"
	"github.com/brownsville-complaints/internal/identity"
	"github.com/brownsville-complaints/internal/merge"
	"github.com/brownsville-complaints/internal/source"
)

// Feed is one source's raw extract, supplied by the retrieval side.
type Feed struct {
	Source  source.ID
	Records []source.RawRecord
}

// Options tune a pipeline run.
type Options struct {
	Workers   int
	Tolerance time.Duration
	MajorOnly bool
	Debug     bool
}

// Runner drives a batch reconciliation run: map, resolve, merge.
type Runner struct {
	mappers map[source.ID]source.Mapper
	opts    Options
}

// NewRunner wires one mapper per feed around the shared resolver.
func NewRunner(resolver source.Resolver, opts Options) (*Runner, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = merge.DefaultTolerance
	}

	mappers := make(map[source.ID]source.Mapper, 3)
	for _, src := range []source.ID{source.Source311, source.SourceComplaintProblems, source.SourceDOB} {
		m, err := source.NewMapper(src, resolver)
		if err != nil {
			return nil, err
		}
		mappers[src] = m
	}
	return &Runner{mappers: mappers, opts: opts}, nil
}

// Run-level geocoder failures. Once either occurs every remaining
// record would fail the same way, so the run aborts with the previous
// dataset intact instead of replacing it with a near-empty one.
var (
	ErrQuotaExhausted = errors.New("geocoder quota exhausted")
	ErrGeocoderAuth   = errors.New("geocoder rejected the api key")
)

// runFatal classifies per-record failures that condemn the whole run:
// an exhausted upstream quota or a rejected API key.
func runFatal(err error) error {
	var ge *identity.GeocodeError
	if !errors.As(err, &ge) {
		return nil
	}
	var ae *geocode.AuthError
	if errors.As(ge.Err, &ae) {
		return ErrGeocoderAuth
	}
	var rl *geocode.RateLimitError
	if ge.Retryable && errors.As(ge.Err, &rl) {
		return ErrQuotaExhausted
	}
	return nil
}

// Result is everything a completed run produced.
type Result struct {
	Merged   []merge.MergedComplaint
	Rejected []dataset.Rejection
	Stats    []dataset.SourceStat
	Started  time.Time
	Duration time.Duration
}

// Run processes every feed and returns the merged dataset. Per-record
// failures land in the rejected log and never abort the run; the run
// itself fails only on cancellation, an unusable feed or an unusable
// geocoder, before any dataset replacement happens.
func (r *Runner) Run(ctx context.Context, feeds []Feed, rejected *RejectedLog) (*Result, error) {
	started := time.Now()
	defer debug.Timing(r.opts.Debug, "pipeline run")()
	var (
		mu            sync.Mutex
		fatal         error
		intermediates []source.IntermediateRecord
		stats         = make(map[source.ID]*dataset.SourceStat)
	)

	for _, feed := range feeds {
		mapper, ok := r.mappers[feed.Source]
		if !ok {
			return nil, fmt.Errorf("no mapper for feed %q", feed.Source)
		}

		st := &dataset.SourceStat{Source: feed.Source}
		stats[feed.Source] = st

		jobs := make(chan source.RawRecord)
		var wg sync.WaitGroup
		for w := 0; w < r.opts.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for raw := range jobs {
					rec, err := mapper.Map(ctx, raw)
					mu.Lock()
					if err != nil {
						st.Rejected++
						if f := runFatal(err); f != nil && fatal == nil {
							fatal = f
						}
						mu.Unlock()
						appendErr := rejected.Append(dataset.Rejection{
							Source: raw.Source,
							RawKey: raw.NaturalKey(),
							Reason: rejectionReason(err),
							At:     started,
						})
						if appendErr != nil {
							// The log is the accountability trail; a
							// write failure is worth surfacing loudly.
							fmt.Printf("rejected-log write failed: %v\n", appendErr)
						}
						continue
					}
					st.Processed++
					intermediates = append(intermediates, *rec)
					mu.Unlock()
				}
			}()
		}

	feedLoop:
		for _, raw := range feed.Records {
			mu.Lock()
			stop := fatal != nil
			mu.Unlock()
			if stop {
				break feedLoop
			}
			select {
			case jobs <- raw:
			case <-ctx.Done():
				break feedLoop
			}
		}
		close(jobs)
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run aborted: %w", err)
		}
		if fatal != nil {
			return nil, fmt.Errorf("run aborted: %w", fatal)
		}

		debug.Output(r.opts.Debug, "%s: %d mapped, %d rejected", feed.Source, st.Processed, st.Rejected)
	}

	merged, unkeyed := merge.Merge(intermediates, merge.Options{
		Tolerance: r.opts.Tolerance,
		MajorOnly: r.opts.MajorOnly,
	})
	if unkeyed > 0 {
		return nil, fmt.Errorf("%d mapped records carried no building identity", unkeyed)
	}

	mergedBySource := make(map[source.ID]int)
	for _, mc := range merged {
		for _, src := range mc.Sources {
			mergedBySource[src]++
		}
	}

	result := &Result{
		Merged:   merged,
		Rejected: rejected.Entries(),
		Started:  started,
		Duration: time.Since(started),
	}
	for _, src := range []source.ID{source.Source311, source.SourceComplaintProblems, source.SourceDOB} {
		if st, ok := stats[src]; ok {
			st.Merged = mergedBySource[src]
			result.Stats = append(result.Stats, *st)
		}
	}
	return result, nil
}

// rejectionReason renders the failure taxonomy for the log.
func rejectionReason(err error) string {
	var me *source.MappingError
	if errors.As(err, &me) {
		return me.Error()
	}
	if errors.Is(err, identity.ErrUnresolvableAddress) {
		return "unresolvable address"
	}
	if errors.Is(err, identity.ErrParcelConflict) {
		return "parcel-conflict"
	}
	var ge *identity.GeocodeError
	if errors.As(err, &ge) {
		var ae *geocode.AuthError
		if errors.As(ge.Err, &ae) {
			return "geocoder authentication failed"
		}
		if ge.Retryable {
			return "geocode failed (retry budget exhausted)"
		}
		return "geocode failed (address not found)"
	}
	return err.Error()
}

// WriteSummary prints the per-source run accounting.
func (res *Result) WriteSummary(w io.Writer, rejectedPath string) {
	fmt.Fprintf(w, "Run completed in %v\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Merged complaints: %d\n", len(res.Merged))
	for _, st := range res.Stats {
		fmt.Fprintf(w, "  %-20s processed=%d merged=%d rejected=%d\n", st.Source, st.Processed, st.Merged, st.Rejected)
	}
	fmt.Fprintf(w, "Rejected records: %d (%s)\n", len(res.Rejected), rejectedPath)
}
