// Package player replays stored recordings against the live computation and
// reports the ones whose output drifted.
//
// Recordings are processed one at a time in discovery order, so the index
// printed next to each recording is stable across runs against the same
// storage state. Progress and the failure report go to the human output
// writer; structured logs go to the injected logger.
package player

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/compare"
	"github.com/roach88/playback/internal/diff"
	"github.com/roach88/playback/internal/worker"
)

// AllCustomers selects every customer found under the storage root.
const AllCustomers = "any"

const (
	DefaultWindow  = 7 * 24 * time.Hour
	DefaultMinSize = 10
	indentUnit     = "    "
)

// Options configures a Player.
type Options struct {
	// SkipRecordedErrors skips recordings whose capture failed.
	SkipRecordedErrors bool
	// Window bounds how old a recording may be in customer mode.
	Window time.Duration
	// MinSize skips listed objects of this size or smaller in customer mode.
	MinSize int64

	Color  bool
	Escape bool

	Now        func() time.Time
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
}

// Selection names what a Run replays.
type Selection struct {
	Customer string
	Key      string
}

// Player replays recordings of one wrapped worker.
type Player struct {
	wrapper     *worker.Wrapper
	comparators *compare.Registry
	out         io.Writer
	printer     diff.Printer
	opts        Options
	logger      zerolog.Logger
	metrics     *metrics
	depth       int
}

// New creates a Player writing progress and reports to out.
func New(w *worker.Wrapper, comparators *compare.Registry, out io.Writer, opts Options) *Player {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if comparators == nil {
		comparators = compare.NewRegistry()
	}
	return &Player{
		wrapper:     w,
		comparators: comparators,
		out:         out,
		printer:     diff.Printer{Color: opts.Color, Escape: opts.Escape},
		opts:        opts,
		logger:      opts.Logger.With().Str("component", "player").Str("method", w.Method()).Logger(),
		metrics:     newMetrics(opts.Registerer),
	}
}

// Run dispatches on the selection: an explicit key runs once, the
// AllCustomers name (or "all") runs every customer, anything else runs one
// customer.
func (p *Player) Run(ctx context.Context, sel Selection) (Report, error) {
	switch {
	case sel.Key != "":
		return p.RunKey(ctx, sel.Customer, sel.Key)
	case sel.Customer == AllCustomers || sel.Customer == "all":
		return p.RunAllCustomers(ctx)
	default:
		return p.RunCustomer(ctx, sel.Customer)
	}
}

// RunKey replays one recording. Errors reading its metadata are returned;
// a mismatch is reported and printed.
func (p *Player) RunKey(ctx context.Context, customer, id string) (Report, error) {
	if customer != "" {
		p.cassette().SetCustomer(customer)
	}
	var report Report
	if err := p.runAndLog(ctx, id, 0, &report); err != nil {
		return report, err
	}
	p.printEntries(report.Entries)
	return report, nil
}

// RunCustomer replays the customer's recent recordings: objects larger than
// MinSize modified within Window before now.
func (p *Player) RunCustomer(ctx context.Context, customer string) (Report, error) {
	p.cassette().SetCustomer(customer)

	ids, err := p.recentKeys(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list recordings of %s: %w", customer, err)
	}
	if len(ids) == 0 {
		fmt.Fprintf(p.out, "%sNo records found for customer: %s\n", p.indent(), customer)
		return Report{}, nil
	}

	fmt.Fprintf(p.out, "%sfound %d records of %s:\n", p.indent(), len(ids), customer)
	return p.runOnList(ctx, ids)
}

// RunAllCustomers groups the method's recordings under the storage root by
// customer, in first-discovery order, and runs each customer in turn.
func (p *Player) RunAllCustomers(ctx context.Context) (Report, error) {
	c := p.cassette()
	method := p.wrapper.Method()

	objs, err := p.wrapper.Recorder().ListObjects(ctx, func(o cassette.Object) bool {
		return cassette.IsRecordingKey(o.Key, method)
	}, c.Root())
	if err != nil {
		return Report{}, fmt.Errorf("list customers: %w", err)
	}

	var customers []string
	seen := make(map[string]bool)
	for _, o := range objs {
		customer := cassette.CustomerFromKey(c.Root(), o.Key)
		if customer == "" || seen[customer] {
			continue
		}
		seen[customer] = true
		customers = append(customers, customer)
	}

	fmt.Fprintf(p.out, "%sfound %d customers\n", p.indent(), len(customers))

	var report Report
	p.depth++
	defer func() { p.depth-- }()
	for _, customer := range customers {
		r, err := p.RunCustomer(ctx, customer)
		report.Merge(r)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (p *Player) cassette() cassette.Cassette {
	return p.wrapper.Recorder().Cassette()
}

func (p *Player) recentKeys(ctx context.Context) ([]string, error) {
	now := p.opts.Now()
	since := now.Add(-p.opts.Window)
	return p.wrapper.GetRecordingsByFilter(ctx, func(o cassette.Object) bool {
		return o.Size > p.opts.MinSize && now.After(o.LastModified) && since.Before(o.LastModified)
	}, "")
}

func (p *Player) runOnList(ctx context.Context, ids []string) (Report, error) {
	var report Report
	p.depth++
	defer func() { p.depth-- }()

	for i, id := range ids {
		if err := p.runAndLog(ctx, id, i, &report); err != nil {
			return report, err
		}
	}
	p.printEntries(report.Entries)
	return report, nil
}

// runAndLog replays the i-th recording of a list and records the outcome
// in report. Only metadata read failures and cancellation are returned.
func (p *Player) runAndLog(ctx context.Context, id string, i int, report *Report) error {
	md, err := p.wrapper.GetMetaData(ctx, id)
	if err != nil {
		return err
	}
	log := p.logger.With().Str("recording", id).Logger()

	if md.Failed() && p.opts.SkipRecordedErrors {
		report.add(diff.StatusSkipped, nil)
		p.metrics.recordings.WithLabelValues(p.wrapper.Method(), string(diff.StatusSkipped)).Inc()
		log.Debug().Msg("skipped recorded error")
		return nil
	}

	var line strings.Builder
	fmt.Fprintf(&line, "%s%d)", p.indent(), i+1)
	if ts := md.Timestamp(); !ts.IsZero() {
		fmt.Fprintf(&line, " %s,", ts.UTC().Format(time.RFC3339))
	}
	if user := md.User(); user != "" {
		name, _, _ := strings.Cut(user, "@")
		fmt.Fprintf(&line, " %s,", name)
	}
	if customer := md.Customer(); customer != "" {
		fmt.Fprintf(&line, " %s,", customer)
	}
	fmt.Fprintf(&line, " %s: ", id)
	fmt.Fprint(p.out, line.String())

	start := time.Now()
	replayErr := p.replay(ctx, id)
	p.metrics.duration.WithLabelValues(p.wrapper.Method()).Observe(time.Since(start).Seconds())

	status := diff.StatusPass
	if replayErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			fmt.Fprintln(p.out)
			return ctxErr
		}
		status = diff.StatusFail
		if md.Failed() {
			status = diff.StatusPending
		}
	}
	fmt.Fprintln(p.out, p.printer.StatusMark(status))
	p.metrics.recordings.WithLabelValues(p.wrapper.Method(), string(status)).Inc()

	if replayErr == nil {
		report.add(status, nil)
		log.Debug().Msg("replay matched")
		return nil
	}

	entry, err := p.printer.NewEntry(i+1, id, status, replayErr)
	if err != nil {
		entry = diff.Entry{Index: i + 1, Title: id, Status: status, Message: replayErr.Error(), Context: err.Error()}
	}
	report.add(status, &entry)
	log.Info().Str("status", string(status)).Err(replayErr).Msg("replay mismatch")
	return nil
}

// replay runs the stored input through the live computation and compares
// the stored and replayed outputs, both in the form storage reads back.
func (p *Player) replay(ctx context.Context, id string) error {
	data, err := p.wrapper.GetRecordingByKey(ctx, id)
	if err != nil {
		return err
	}
	actual, err := p.wrapper.PlaybackByInput(ctx, data.Input)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	canon, err := cassette.Canonicalize(data.Output)
	if err != nil {
		return fmt.Errorf("canonicalize recorded output: %w", err)
	}
	return p.comparators.Compare(p.wrapper.Method(), cassette.Decanonicalize(canon), actual)
}

func (p *Player) printEntries(entries []diff.Entry) {
	for _, e := range entries {
		fmt.Fprintln(p.out, p.printer.Format(e))
	}
}

func (p *Player) indent() string {
	return strings.Repeat(indentUnit, p.depth)
}
