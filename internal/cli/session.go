package cli

import (
	"context"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/compare"
	"github.com/roach88/playback/internal/recorder"
	"github.com/roach88/playback/internal/worker"
)

// openWrapper wraps the named worker over the configured storage. The
// caller closes the wrapper's recorder.
func (o *RootOptions) openWrapper(ctx context.Context, method, customer string) (*worker.Wrapper, error) {
	w, err := o.workers.New(method)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "unknown method", err)
	}
	rec, err := recorder.Open(ctx, method, o.Config, o.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	if customer != "" {
		rec.Cassette().SetCustomer(customer)
	}
	return worker.Wrap(w, rec, worker.WithLogger(o.Logger)), nil
}

// comparators builds the registry, adding rules from the configured CUE
// file when there is one.
func (o *RootOptions) comparators() (*compare.Registry, error) {
	reg := compare.NewRegistry()
	if o.Config.Comparators == "" {
		return reg, nil
	}
	rules, err := compare.LoadRules(o.Config.Comparators)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load comparator rules", err)
	}
	reg.RegisterRules(rules)
	o.Logger.Debug().
		Str("path", o.Config.Comparators).
		Int("rules", len(rules)).
		Msg("comparator rules loaded")
	return reg, nil
}

// storageError maps a storage failure to an exit error.
func storageError(message string, err error) error {
	if cassette.IsNotFound(err) {
		return WrapExitError(ExitCommandError, "recording not found", err)
	}
	return WrapExitError(ExitCommandError, message, err)
}
