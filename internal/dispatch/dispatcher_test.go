package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/configsync"
	"github.com/GXboy12345/newtab-rick/internal/engine"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/GXboy12345/newtab-rick/internal/tabs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedirector struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
	openErr   error
}

func (r *fakeRedirector) Schedule(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, tabID)
}

func (r *fakeRedirector) Cancel(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, tabID)
	return true
}

func (r *fakeRedirector) OpenNow(context.Context) (tabs.Tab, error) {
	if r.openErr != nil {
		return tabs.Tab{}, r.openErr
	}
	return tabs.Tab{ID: "9", URL: engine.DefaultLandingURL}, nil
}

type fakeChecker struct {
	result configsync.Result
	err    error
	calls  int
}

func (c *fakeChecker) CheckOnce(context.Context) (configsync.Result, error) {
	c.calls++
	return c.result, c.err
}

type recordingBadge struct {
	mu     sync.Mutex
	states []tabs.BadgeState
	seen   chan struct{}
}

func (b *recordingBadge) Set(_ context.Context, s tabs.BadgeState) {
	b.mu.Lock()
	b.states = append(b.states, s)
	b.mu.Unlock()
	select {
	case b.seen <- struct{}{}:
	default:
	}
}

func (b *recordingBadge) last() tabs.BadgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[len(b.states)-1]
}

func newTestDispatcher(t *testing.T, u state.Update) (*Dispatcher, *state.Store, *fakeRedirector, *fakeChecker) {
	t.Helper()
	store := state.NewStore(state.Options{})
	t.Cleanup(func() { _ = store.Close() })
	store.Set(u)
	eng := engine.New(store, engine.Options{Rand: engine.NewSeededRand(7)})
	redirector := &fakeRedirector{}
	checker := &fakeChecker{result: configsync.ResultSkipped}
	return New(store, eng, redirector, Options{Syncer: checker}), store, redirector, checker
}

func TestGetStateReturnsSnapshot(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, state.Update{TabCount: lo.ToPtr(12)})

	resp, err := d.Handle(context.Background(), Request{Action: ActionGetState})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.State)
	assert.Equal(t, 12, resp.State.TabCount)
	assert.Equal(t, state.DefaultRollChance, resp.State.RollChance)
}

func TestSettingCommandsValidateRange(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t, state.Update{})
	ctx := context.Background()

	for _, v := range []int{0, -1, 1001} {
		resp, err := d.Handle(ctx, Request{Action: ActionUpdateChance, RandomChance: lo.ToPtr(v)})
		require.NoError(t, err)
		assert.False(t, resp.Success, "chance %d", v)

		resp, err = d.Handle(ctx, Request{Action: ActionUpdateInterval, IntervalValue: lo.ToPtr(v)})
		require.NoError(t, err)
		assert.False(t, resp.Success, "interval %d", v)
	}
	snap := store.Snapshot()
	assert.Equal(t, state.DefaultRollChance, snap.RollChance)
	assert.Equal(t, state.DefaultIntervalValue, snap.IntervalValue)

	resp, err := d.Handle(ctx, Request{Action: ActionUpdateChance, RandomChance: lo.ToPtr(1000)})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1000, store.Snapshot().RollChance)

	resp, err = d.Handle(ctx, Request{Action: ActionUpdateMode, Mode: lo.ToPtr("lottery")})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, state.ModeRoll, store.Snapshot().Mode)
}

func TestUpdateModeToRouletteDrawsTarget(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t, state.Update{IntervalValue: lo.ToPtr(10)})

	resp, err := d.Handle(context.Background(), Request{Action: ActionUpdateMode, Mode: lo.ToPtr("roulette")})
	require.NoError(t, err)
	require.True(t, resp.Success)

	snap := store.Snapshot()
	assert.Equal(t, state.ModeRoulette, snap.Mode)
	assert.Equal(t, 0, snap.RouletteProgress)
	assert.GreaterOrEqual(t, snap.RouletteTarget, 1)
	assert.LessOrEqual(t, snap.RouletteTarget, 10)
}

func TestTabEventsScheduleAndCancelRedirects(t *testing.T) {
	d, store, redirector, _ := newTestDispatcher(t, state.Update{
		Mode:          lo.ToPtr(state.ModeInterval),
		IntervalValue: lo.ToPtr(2),
	})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		d.TabCreated(ctx, tabs.Tab{ID: id})
	}
	d.TabRemoved(ctx, "d")

	assert.Equal(t, []string{"b", "d"}, redirector.scheduled)
	assert.Equal(t, []string{"d"}, redirector.cancelled)
	assert.Equal(t, 2, store.Snapshot().RickrollCount)
}

func TestToggleDisabledIgnoresTabs(t *testing.T) {
	d, store, redirector, _ := newTestDispatcher(t, state.Update{
		Mode:          lo.ToPtr(state.ModeInterval),
		IntervalValue: lo.ToPtr(1),
	})
	ctx := context.Background()

	resp, err := d.Handle(ctx, Request{Action: ActionToggleEnabled, IsEnabled: lo.ToPtr(false)})
	require.NoError(t, err)
	require.True(t, resp.Success)

	d.TabCreated(ctx, tabs.Tab{ID: "1"})
	assert.Empty(t, redirector.scheduled)
	assert.Equal(t, 0, store.Snapshot().TabCount)

	resp, err = d.Handle(ctx, Request{Action: ActionToggleEnabled})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestResetCountKeepsRickrollTotal(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t, state.Update{
		TabCount:      lo.ToPtr(40),
		RickrollCount: lo.ToPtr(3),
	})

	resp, err := d.Handle(context.Background(), Request{Action: ActionResetCount})
	require.NoError(t, err)
	require.True(t, resp.Success)

	snap := store.Snapshot()
	assert.Equal(t, 0, snap.TabCount)
	assert.Equal(t, 3, snap.RickrollCount)
}

func TestOpenRickrollNowAndCheckConfig(t *testing.T) {
	d, _, redirector, checker := newTestDispatcher(t, state.Update{})
	ctx := context.Background()

	resp, err := d.Handle(ctx, Request{Action: ActionOpenRickrollNow})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "9", resp.Tab.ID)

	redirector.openErr = tabs.ErrNotConnected
	resp, err = d.Handle(ctx, Request{Action: ActionOpenRickrollNow})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = d.Handle(ctx, Request{Action: ActionCheckConfig})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "skipped", resp.Result)

	checker.result, checker.err = configsync.ResultFailed, errors.New("boom")
	resp, err = d.Handle(ctx, Request{Action: ActionCheckConfig})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "failed", resp.Result)
	assert.Equal(t, 2, checker.calls)
}

func TestSetRemoteConfigURL(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t, state.Update{})
	ctx := context.Background()

	resp, err := d.Handle(ctx, Request{Action: ActionSetRemoteConfigURL, RemoteConfigURL: lo.ToPtr("ftp://nope")})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Empty(t, store.Snapshot().RemoteConfigURL)

	resp, err = d.Handle(ctx, Request{Action: ActionSetRemoteConfigURL, RemoteConfigURL: lo.ToPtr("https://example.test/config.json")})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "https://example.test/config.json", store.Snapshot().RemoteConfigURL)

	resp, err = d.Handle(ctx, Request{Action: ActionSetRemoteConfigURL, RemoteConfigURL: lo.ToPtr("")})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, store.Snapshot().RemoteConfigURL)
}

func TestUpdatePreferences(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t, state.Update{})
	ctx := context.Background()

	resp, err := d.Handle(ctx, Request{
		Action:                  ActionUpdatePreferences,
		IntervalProgressVisible: lo.ToPtr(true),
		Accent1:                 lo.ToPtr("#ff00aa"),
		Theme:                   lo.ToPtr("Light"),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	snap := store.Snapshot()
	assert.True(t, snap.IntervalProgressVisible)
	assert.Equal(t, "#ff00aa", snap.Accent1)
	assert.Equal(t, "light", snap.Theme)

	resp, err = d.Handle(ctx, Request{Action: ActionUpdatePreferences, Theme: lo.ToPtr("sepia")})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = d.Handle(ctx, Request{Action: ActionUpdatePreferences})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestUnknownAction(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, state.Update{})
	_, err := d.Handle(context.Background(), Request{Action: "selfDestruct"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestBadgeFor(t *testing.T) {
	on := BadgeFor(state.Snapshot{Settings: state.Settings{Enabled: true, Mode: state.ModeRoll}})
	assert.Equal(t, "ON", on.Text)
	assert.Equal(t, "#34C759", on.Color)
	assert.Equal(t, "Rickroll Extension - Enabled (Roll)", on.Title)

	off := BadgeFor(state.Snapshot{Settings: state.Settings{Mode: state.ModeRoulette}})
	assert.Equal(t, "OFF", off.Text)
	assert.Equal(t, "#FF3B30", off.Color)
	assert.Equal(t, "Rickroll Extension - Disabled (Roulette)", off.Title)
}

func TestRunBadgeFollowsState(t *testing.T) {
	store := state.NewStore(state.Options{})
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(store, engine.Options{})
	badge := &recordingBadge{seen: make(chan struct{}, 8)}
	d := New(store, eng, &fakeRedirector{}, Options{Badge: badge})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunBadge(ctx)

	waitBadge := func() {
		t.Helper()
		select {
		case <-badge.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("badge not updated")
		}
	}
	waitBadge()
	assert.Equal(t, "ON", badge.last().Text)

	_, err := d.Handle(ctx, Request{Action: ActionToggleEnabled, IsEnabled: lo.ToPtr(false)})
	require.NoError(t, err)
	waitBadge()
	assert.Equal(t, "OFF", badge.last().Text)
}
