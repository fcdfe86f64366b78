package qualify

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/dataset"
	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/kv"
	"github.com/leadhound/qualifier/internal/reason"
	"github.com/leadhound/qualifier/internal/scoring"
)

// stubResolver serves canned DNS answers. When gate is non-nil every
// lookup consumes one token first, which lets tests hold a batch open.
type stubResolver struct {
	mx   map[string]bool
	errs map[string]error
	gate chan struct{}
}

func (s *stubResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	if s.gate != nil {
		<-s.gate
	}
	host := name
	if err, ok := s.errs[host]; ok {
		return nil, err
	}
	if s.mx[host] {
		return []*net.MX{{Host: "mx." + host, Pref: 10}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (s *stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if s.mx[host] {
		return []net.IPAddr{{IP: net.ParseIP("203.0.113.10")}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func nxdomain(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func setupRunnerTest(t *testing.T, resolver *stubResolver) (*Runner, *RunStore, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewRunStore(kv.NewRedisStore(client))
	runner := NewRunner(store, RunnerOptions{
		Checker: domaincheck.NewChecker(resolver, nil, time.Second),
	})
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return runner, store, cleanup
}

func waitFor(t *testing.T, runner *Runner, id string, cond func(Progress) bool) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := runner.Snapshot(context.Background(), id)
		require.NoError(t, err)
		if cond(p) {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run condition")
	return Progress{}
}

func statusIs(want string) func(Progress) bool {
	return func(p Progress) bool { return p.Status == want }
}

func leadDataset(rows ...map[string]string) *dataset.Dataset {
	ds := &dataset.Dataset{Headers: []string{"Website", "Industry", "Company"}}
	for i, r := range rows {
		ds.Rows = append(ds.Rows, dataset.Row{Index: i, Values: r})
	}
	return ds
}

func softwareRules(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`[{"field":"Industry","matchType":"contains","values":["software"]}]`)
}

func TestRunEndToEnd(t *testing.T) {
	resolver := &stubResolver{
		mx:   map[string]bool{"acme.com": true, "dupe.io": true},
		errs: map[string]error{"dead.example": nxdomain("dead.example")},
	}
	runner, _, cleanup := setupRunnerTest(t, resolver)
	defer cleanup()
	ctx := context.Background()

	ds := leadDataset(
		map[string]string{"Website": "acme.com", "Industry": "Software", "Company": "Acme"},
		map[string]string{"Website": "acme.com", "Industry": "Retail", "Company": "Shop"},
		map[string]string{"Website": "facebook.com", "Industry": "Software", "Company": "Meta Page"},
		map[string]string{"Website": "dead.example", "Industry": "Software", "Company": "Ghost"},
		map[string]string{"Website": "dupe.io", "Industry": "Software", "Company": "Dupe"},
		map[string]string{"Website": "", "Industry": "Software", "Company": "Nameless"},
	)
	ref := &dataset.Dataset{
		Headers: []string{"Domain"},
		Rows:    []dataset.Row{{Index: 0, Values: map[string]string{"Domain": "dupe.io"}}},
	}

	id, err := runner.Start(ctx, ds, ref, Config{
		Rules:               softwareRules(t),
		DomainColumn:        "Website",
		BlocklistCategories: []string{"social"},
		ValidateDomains:     true,
		Scoring:             &scoring.Config{},
	})
	require.NoError(t, err)

	p := waitFor(t, runner, id, statusIs(RunCompleted))
	assert.Equal(t, 1.0, p.Fraction)
	assert.Equal(t, 6, p.RowsTotal)
	assert.Equal(t, 1, p.Counts[RowQualified])
	assert.Equal(t, 1, p.Counts[RowRemovedFilter])
	assert.Equal(t, 3, p.Counts[RowRemovedDomain])
	assert.Equal(t, 1, p.Counts[RowRemovedReference])
	assert.Equal(t, 1, p.Counts["removed_blocklist"])

	state, err := runner.Results(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, RowQualified, state.Results[0].Status)
	require.NotNil(t, state.Results[0].Score)

	assert.Equal(t, RowRemovedFilter, state.Results[1].Status)
	assert.Equal(t, reason.RuleFailed, state.Results[1].Reason.Kind)
	assert.Equal(t, "Industry", state.Results[1].Reason.Column)

	assert.Equal(t, "blocked_domain_social", state.Results[2].Reason.String())
	assert.Equal(t, "dns_dead_nxdomain", state.Results[3].Reason.String())

	assert.Equal(t, RowRemovedReference, state.Results[4].Status)
	require.NotNil(t, state.Results[4].Match)
	assert.Equal(t, "dupe.io", state.Results[4].Match.NormalizedKey)

	assert.Equal(t, "dns_dead_no_domain", state.Results[5].Reason.String())
}

func TestStartRejectsInvalidRules(t *testing.T) {
	runner, _, cleanup := setupRunnerTest(t, &stubResolver{})
	defer cleanup()

	_, err := runner.Start(context.Background(), leadDataset(), nil, Config{
		Rules: json.RawMessage(`[{"field":"Industry","matchType":"bogus"}]`),
	})
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestSnapshotUnknownRun(t *testing.T) {
	runner, _, cleanup := setupRunnerTest(t, &stubResolver{})
	defer cleanup()

	_, err := runner.Snapshot(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPauseAndFinishMarksUnprocessed(t *testing.T) {
	resolver := &stubResolver{
		mx:   map[string]bool{"slow.io": true},
		errs: map[string]error{"first.dead": nxdomain("first.dead")},
		gate: make(chan struct{}, 10),
	}
	runner, _, cleanup := setupRunnerTest(t, resolver)
	defer cleanup()
	ctx := context.Background()

	ds := leadDataset(
		map[string]string{"Website": "first.dead", "Industry": "Software"},
		map[string]string{"Website": "slow.io", "Industry": "Software"},
	)
	id, err := runner.Start(ctx, ds, nil, Config{
		DomainColumn:    "Website",
		ValidateDomains: true,
		DNSConcurrency:  1,
	})
	require.NoError(t, err)

	waitFor(t, runner, id, func(p Progress) bool {
		return p.Status == RunRunning && p.Stage == StageDNS
	})
	require.NoError(t, runner.Pause(ctx, id))
	resolver.gate <- struct{}{} // let the in-flight lookup finish

	waitFor(t, runner, id, statusIs(RunPaused))
	require.NoError(t, runner.Finish(ctx, id))

	state, err := runner.Results(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state.Status)
	assert.Equal(t, RowRemovedDomain, state.Results[0].Status)
	assert.Equal(t, RowPausedUnprocessed, state.Results[1].Status)
	assert.Equal(t, reason.PausedUnprocessed, state.Results[1].Reason.Kind)
}

func TestPauseReportsPausingUntilBoundary(t *testing.T) {
	resolver := &stubResolver{
		mx:   map[string]bool{"slow.io": true},
		gate: make(chan struct{}, 10),
	}
	runner, _, cleanup := setupRunnerTest(t, resolver)
	defer cleanup()
	ctx := context.Background()

	ds := leadDataset(
		map[string]string{"Website": "slow.io", "Industry": "Software"},
	)
	id, err := runner.Start(ctx, ds, nil, Config{
		DomainColumn:    "Website",
		ValidateDomains: true,
		DNSConcurrency:  1,
	})
	require.NoError(t, err)

	waitFor(t, runner, id, func(p Progress) bool {
		return p.Status == RunRunning && p.Stage == StageDNS
	})
	require.NoError(t, runner.Pause(ctx, id))

	// The transitional state is visible while the in-flight lookup
	// still holds the stage open.
	p, err := runner.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunPausing, p.Status)

	// Pausing is not pausable and not resumable.
	assert.ErrorIs(t, runner.Pause(ctx, id), ErrRunNotRunning)
	assert.ErrorIs(t, runner.Resume(ctx, id, Config{}), ErrRunNotPaused)

	resolver.gate <- struct{}{}
	waitFor(t, runner, id, statusIs(RunPaused))
}

func TestResumeAfterPause(t *testing.T) {
	resolver := &stubResolver{
		mx:   map[string]bool{"a.io": true, "b.io": true, "c.io": true},
		gate: make(chan struct{}, 10),
	}
	runner, store, cleanup := setupRunnerTest(t, resolver)
	defer cleanup()
	ctx := context.Background()

	ds := leadDataset(
		map[string]string{"Website": "a.io", "Industry": "Software"},
		map[string]string{"Website": "b.io", "Industry": "Software"},
		map[string]string{"Website": "c.io", "Industry": "Software"},
	)
	cfg := Config{DomainColumn: "Website", ValidateDomains: true, DNSConcurrency: 1}

	id, err := runner.Start(ctx, ds, nil, cfg)
	require.NoError(t, err)

	waitFor(t, runner, id, func(p Progress) bool {
		return p.Status == RunRunning && p.Stage == StageDNS
	})
	require.NoError(t, runner.Pause(ctx, id))
	resolver.gate <- struct{}{}
	waitFor(t, runner, id, statusIs(RunPaused))

	// Resuming with a different config is rejected.
	changed := cfg
	changed.DNSConcurrency = 7
	assert.ErrorIs(t, runner.Resume(ctx, id, changed), ErrConfigChanged)

	// A fresh runner over the same store picks the run up where it
	// stopped, as after a process restart.
	restarted := NewRunner(store, RunnerOptions{
		Checker: domaincheck.NewChecker(resolver, nil, time.Second),
	})
	for i := 0; i < 10; i++ {
		resolver.gate <- struct{}{}
	}
	require.NoError(t, restarted.Resume(ctx, id, cfg))

	p := waitFor(t, restarted, id, statusIs(RunCompleted))
	assert.Equal(t, 3, p.Counts[RowQualified])
}

func TestCancelPausedRun(t *testing.T) {
	resolver := &stubResolver{
		mx:   map[string]bool{"a.io": true, "b.io": true},
		gate: make(chan struct{}, 10),
	}
	runner, _, cleanup := setupRunnerTest(t, resolver)
	defer cleanup()
	ctx := context.Background()

	ds := leadDataset(
		map[string]string{"Website": "a.io", "Industry": "Software"},
		map[string]string{"Website": "b.io", "Industry": "Software"},
	)
	id, err := runner.Start(ctx, ds, nil, Config{
		DomainColumn: "Website", ValidateDomains: true, DNSConcurrency: 1,
	})
	require.NoError(t, err)

	waitFor(t, runner, id, func(p Progress) bool {
		return p.Status == RunRunning && p.Stage == StageDNS
	})
	require.NoError(t, runner.Pause(ctx, id))
	resolver.gate <- struct{}{}
	waitFor(t, runner, id, statusIs(RunPaused))

	require.NoError(t, runner.Cancel(ctx, id))
	p, err := runner.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, p.Status)

	assert.ErrorIs(t, runner.Cancel(ctx, id), ErrRunFinished)
}

func TestRunStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRunStore(kv.NewRedisStore(client))
	ctx := context.Background()

	state := &RunState{
		ID:      "run-1",
		Status:  RunPaused,
		Stage:   StageDNS,
		Headers: []string{"Website"},
		Rows:    []map[string]string{{"Website": "acme.com"}},
		Results: []RowResult{{Index: 0}},
	}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunPaused, loaded.Status)
	assert.Equal(t, StageDNS, loaded.Stage)

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)

	require.NoError(t, store.Delete(ctx, "run-1"))
	_, err = store.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
