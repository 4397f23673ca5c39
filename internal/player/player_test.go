package player

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/compare"
	"github.com/roach88/playback/internal/diff"
	"github.com/roach88/playback/internal/recorder"
	"github.com/roach88/playback/internal/recording"
	"github.com/roach88/playback/internal/testutil"
	"github.com/roach88/playback/internal/worker"
)

type fixture struct {
	cassette *cassette.MemoryCassette
	wrapper  *worker.Wrapper
	out      *bytes.Buffer
	compared []any
	registry *compare.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cassette.NewMemoryCassetteWithClock(worker.SumMethod,
		testutil.NewSteppingClock(testutil.Epoch, time.Minute).Now)
	f := &fixture{
		cassette: c,
		wrapper:  worker.Wrap(worker.Sum{}, recorder.New(c)),
		out:      &bytes.Buffer{},
		registry: compare.NewRegistry(),
	}
	f.registry.Register(worker.SumMethod, func(expected, actual any) error {
		f.compared = append(f.compared, expected)
		return compare.Default(expected, actual)
	})
	return f
}

// save stores a recording of Sum(1, 2) whose recorded output is output.
func (f *fixture) save(t *testing.T, customer, id string, output any, failed bool) {
	t.Helper()
	f.cassette.SetCustomer(customer)
	rec := recording.NewWithGenerator(worker.SumMethod, recording.NewFixedIDGenerator(id), testutil.Epoch)
	rec.SetData(recording.Data{Input: []any{1, 2}, Output: output})
	rec.AddMetaData(map[string]any{recording.KeyCustomer: customer, recording.KeyUser: "jane@acme.io"})
	if failed {
		rec.AddMetaData(map[string]any{recording.KeyError: true})
	}
	require.NoError(t, f.cassette.SaveRecording(context.Background(), id, rec))
}

func (f *fixture) player(opts Options) *Player {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testutil.Epoch.Add(time.Hour) }
	}
	return New(f.wrapper, f.registry, f.out, opts)
}

func TestRunCustomer_SkipsRecordedErrorsAndReportsMismatch(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-a", 3, false)
	f.save(t, "acme", "rec-b", 4, false)
	f.save(t, "acme", "rec-c", nil, true)

	report, err := f.player(Options{SkipRecordedErrors: true}).RunCustomer(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	entry := report.Entries[0]
	assert.Equal(t, 2, entry.Index)
	assert.Equal(t, "rec-b", entry.Title)
	assert.Equal(t, diff.StatusFail, entry.Status)
	assert.Contains(t, entry.Diff, "+4")
	assert.Contains(t, entry.Diff, "-3")

	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Total())

	out := f.out.String()
	assert.Contains(t, out, "found 3 records of acme:\n")
	assert.Contains(t, out, "    1) 2024-01-15T10:00:00Z, jane, acme, rec-a: ✓\n")
	assert.Contains(t, out, "    2) 2024-01-15T10:00:00Z, jane, acme, rec-b: ✖\n")
	assert.Contains(t, out, "  2) rec-b:\n")
	assert.NotContains(t, out, "rec-c")
}

// With three recordings where the second was a failed capture, skipping
// never compares it and keeps it out of the report.
func TestRunCustomer_SkippedRecordingIsNeverCompared(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-1", 3, false)
	f.save(t, "acme", "rec-2", nil, true)
	f.save(t, "acme", "rec-3", 3, false)

	report, err := f.player(Options{SkipRecordedErrors: true}).RunCustomer(context.Background(), "acme")
	require.NoError(t, err)

	assert.Len(t, f.compared, 2)
	assert.Empty(t, report.Entries)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Skipped)
}

func TestRunCustomer_RecordedErrorIsPendingWithoutSkip(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-1", 3, false)
	f.save(t, "acme", "rec-2", nil, true)

	report, err := f.player(Options{}).RunCustomer(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.Equal(t, diff.StatusPending, report.Entries[0].Status)
	assert.Equal(t, 2, report.Entries[0].Index)
	assert.Equal(t, 1, report.Pending)
}

func TestRunCustomer_WindowAndSize(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "old", 3, false)
	f.save(t, "acme", "new", 3, false)

	// "old" was modified at Epoch, "new" one minute later.
	p := f.player(Options{
		Window: 90 * time.Second,
		Now:    func() time.Time { return testutil.Epoch.Add(2 * time.Minute) },
	})
	report, err := p.RunCustomer(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total())
	assert.Contains(t, f.out.String(), "new: ✓")
	assert.NotContains(t, f.out.String(), "old")

	f.out.Reset()
	report, err = f.player(Options{MinSize: 1 << 20}).RunCustomer(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, report.Total())
	assert.Equal(t, "No records found for customer: acme\n", f.out.String())
}

func TestRunAllCustomers_GroupsInDiscoveryOrder(t *testing.T) {
	f := newFixture(t)
	f.save(t, "globex", "g-1", 3, false)
	f.save(t, "acme", "a-1", 3, false)
	f.save(t, "globex", "g-2", 5, false)

	report, err := f.player(Options{}).RunAllCustomers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "g-2", report.Entries[0].Title)
	assert.Equal(t, 2, report.Entries[0].Index)

	out := f.out.String()
	assert.Contains(t, out, "found 2 customers\n")
	assert.Contains(t, out, "    found 2 records of globex:\n")
	assert.Contains(t, out, "        1) 2024-01-15T10:00:00Z, jane, globex, g-1: ✓\n")
	assert.Less(t, bytes.Index(f.out.Bytes(), []byte("of globex")), bytes.Index(f.out.Bytes(), []byte("of acme")))
}

func TestRunKey(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-1", 4, false)
	f.cassette.SetCustomer("elsewhere")

	report, err := f.player(Options{}).RunKey(context.Background(), "acme", "rec-1")
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, 1, report.Entries[0].Index)
	assert.Equal(t, "1) 2024-01-15T10:00:00Z, jane, acme, rec-1: ✖\n", firstLine(f.out.String()))

	_, err = f.player(Options{}).RunKey(context.Background(), "acme", "missing")
	assert.True(t, cassette.IsNotFound(err))
}

func TestRun_Dispatch(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-1", 3, false)
	ctx := context.Background()

	r, err := f.player(Options{}).Run(ctx, Selection{Customer: "acme", Key: "rec-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Passed)

	r, err = f.player(Options{}).Run(ctx, Selection{Customer: AllCustomers})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Passed)

	r, err = f.player(Options{}).Run(ctx, Selection{Customer: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Passed)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.save(t, "acme", "rec-a", 3, false)
	f.save(t, "acme", "rec-b", 4, false)
	f.save(t, "acme", "rec-c", nil, true)

	reg := prometheus.NewRegistry()
	p := f.player(Options{SkipRecordedErrors: true, Registerer: reg})
	_, err := p.RunCustomer(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(p.metrics.recordings.WithLabelValues("Sum", "pass")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(p.metrics.recordings.WithLabelValues("Sum", "fail")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(p.metrics.recordings.WithLabelValues("Sum", "skipped")))
	assert.Equal(t, 1, promtestutil.CollectAndCount(p.metrics.duration))

	count, err := promtestutil.GatherAndCount(reg, "playback_recordings_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReport_Merge(t *testing.T) {
	a := Report{Passed: 1, Entries: []diff.Entry{{Index: 1, Title: "x"}}}
	a.Merge(Report{Failed: 2, Skipped: 1, Entries: []diff.Entry{{Index: 3, Title: "y"}}})
	assert.Equal(t, 4, a.Total())
	assert.Len(t, a.Entries, 2)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i+1]
		}
	}
	return s
}

// Keys listed from disk are in cleaned form, so a root given as "./dir"
// must still group them by customer.
func TestRunAllCustomers_RelativeFSRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	c := cassette.NewFSCassette(worker.SumMethod, "./recordings")
	c.SetCustomer("acme")
	rec := recording.NewWithGenerator(worker.SumMethod, recording.NewFixedIDGenerator("rec-1"), testutil.Epoch)
	rec.SetData(recording.Data{Input: []any{1, 2}, Output: 3})
	rec.AddMetaData(map[string]any{recording.KeyCustomer: "acme"})
	require.NoError(t, c.SaveRecording(ctx, "rec-1", rec))

	var out bytes.Buffer
	p := New(worker.Wrap(worker.Sum{}, recorder.New(c)), nil, &out, Options{
		Now: func() time.Time { return time.Now().Add(time.Hour) },
	})
	report, err := p.RunAllCustomers(ctx)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "found 1 customers\n")
	assert.Contains(t, out.String(), "found 1 records of acme:\n")
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Total())
}
