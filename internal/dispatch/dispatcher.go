package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GXboy12345/newtab-rick/internal/configsync"
	"github.com/GXboy12345/newtab-rick/internal/engine"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/GXboy12345/newtab-rick/internal/tabs"
	"github.com/samber/lo"
)

var ErrUnknownAction = errors.New("unknown action")

const (
	ActionGetState           = "getState"
	ActionToggleEnabled      = "toggleEnabled"
	ActionResetCount         = "resetCount"
	ActionUpdateChance       = "updateChance"
	ActionUpdateMode         = "updateMode"
	ActionUpdateInterval     = "updateInterval"
	ActionOpenRickrollNow    = "openRickrollNow"
	ActionCheckConfig        = "checkConfig"
	ActionSetRemoteConfigURL = "setRemoteConfigUrl"
	ActionUpdatePreferences  = "updatePreferences"
)

// Actions lists every command the dispatcher understands.
var Actions = []string{
	ActionGetState,
	ActionToggleEnabled,
	ActionResetCount,
	ActionUpdateChance,
	ActionUpdateMode,
	ActionUpdateInterval,
	ActionOpenRickrollNow,
	ActionCheckConfig,
	ActionSetRemoteConfigURL,
	ActionUpdatePreferences,
}

const (
	badgeColorOn  = "#34C759"
	badgeColorOff = "#FF3B30"
	maxAccentLen  = 64
)

type Request struct {
	Action          string  `json:"action"`
	IsEnabled       *bool   `json:"isEnabled,omitempty"`
	RandomChance    *int    `json:"randomChance,omitempty"`
	Mode            *string `json:"mode,omitempty"`
	IntervalValue   *int    `json:"intervalValue,omitempty"`
	RemoteConfigURL *string `json:"remoteConfigUrl,omitempty"`

	IntervalProgressVisible *bool   `json:"intervalProgressVisible,omitempty"`
	ChanceManualEnabled     *bool   `json:"chanceManualEnabled,omitempty"`
	IntervalManualEnabled   *bool   `json:"intervalManualEnabled,omitempty"`
	RouletteManualEnabled   *bool   `json:"rouletteManualEnabled,omitempty"`
	Accent1                 *string `json:"accent1,omitempty"`
	Accent2                 *string `json:"accent2,omitempty"`
	Theme                   *string `json:"theme,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	State   *state.Snapshot `json:"state,omitempty"`
	Result  string          `json:"result,omitempty"`
	Tab     *tabs.Tab       `json:"tab,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Store interface {
	Snapshot() state.Snapshot
	Set(u state.Update) state.Snapshot
	Subscribe() (<-chan state.Snapshot, func())
}

type Decider interface {
	OnTabCreated() engine.Decision
	SetEnabled(enabled bool) state.Snapshot
	SetChance(chance int) state.Snapshot
	SetMode(mode state.Mode) state.Snapshot
	SetInterval(interval int) state.Snapshot
	ResetCounts() state.Snapshot
}

type Redirector interface {
	Schedule(tabID string)
	Cancel(tabID string) bool
	OpenNow(ctx context.Context) (tabs.Tab, error)
}

type ConfigChecker interface {
	CheckOnce(ctx context.Context) (configsync.Result, error)
}

type Options struct {
	Badge  tabs.Badge
	Syncer ConfigChecker
	Logger *slog.Logger
}

// Dispatcher is the single entry point for UI commands and tab events.
// Input validation lives here; out-of-range values never reach the engine.
type Dispatcher struct {
	store      Store
	engine     Decider
	redirector Redirector
	badge      tabs.Badge
	syncer     ConfigChecker
	logger     *slog.Logger
}

func New(store Store, decider Decider, redirector Redirector, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		engine:     decider,
		redirector: redirector,
		badge:      opts.Badge,
		syncer:     opts.Syncer,
		logger:     logger,
	}
}

// Handle executes one command. Invalid values yield Success=false with no
// state change; only an unrecognized action is an error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Response, error) {
	switch strings.TrimSpace(req.Action) {
	case ActionGetState:
		snap := d.store.Snapshot()
		return Response{Success: true, State: &snap}, nil

	case ActionToggleEnabled:
		if req.IsEnabled == nil {
			return rejected("isEnabled is required"), nil
		}
		d.engine.SetEnabled(*req.IsEnabled)
		return Response{Success: true}, nil

	case ActionResetCount:
		d.engine.ResetCounts()
		return Response{Success: true}, nil

	case ActionUpdateChance:
		if req.RandomChance == nil || !inRange(*req.RandomChance) {
			return rejected(rangeMessage("randomChance")), nil
		}
		d.engine.SetChance(*req.RandomChance)
		return Response{Success: true}, nil

	case ActionUpdateMode:
		if req.Mode == nil {
			return rejected("mode is required"), nil
		}
		mode, err := state.ParseMode(*req.Mode)
		if err != nil {
			return rejected(err.Error()), nil
		}
		d.engine.SetMode(mode)
		return Response{Success: true}, nil

	case ActionUpdateInterval:
		if req.IntervalValue == nil || !inRange(*req.IntervalValue) {
			return rejected(rangeMessage("intervalValue")), nil
		}
		d.engine.SetInterval(*req.IntervalValue)
		return Response{Success: true}, nil

	case ActionOpenRickrollNow:
		tab, err := d.redirector.OpenNow(ctx)
		if err != nil {
			d.logger.Warn("open landing tab failed", "error", err)
			return rejected(err.Error()), nil
		}
		return Response{Success: true, Tab: &tab}, nil

	case ActionCheckConfig:
		if d.syncer == nil {
			return rejected("config sync disabled"), nil
		}
		result, err := d.syncer.CheckOnce(ctx)
		resp := Response{Success: err == nil, Result: string(result)}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp, nil

	case ActionSetRemoteConfigURL:
		if req.RemoteConfigURL == nil {
			return rejected("remoteConfigUrl is required"), nil
		}
		remoteURL := strings.TrimSpace(*req.RemoteConfigURL)
		if remoteURL != "" {
			if err := configsync.ValidateRemoteURL(remoteURL); err != nil {
				return rejected(err.Error()), nil
			}
		}
		d.store.Set(state.Update{RemoteConfigURL: lo.ToPtr(remoteURL)})
		return Response{Success: true}, nil

	case ActionUpdatePreferences:
		u, err := preferencesUpdate(req)
		if err != nil {
			return rejected(err.Error()), nil
		}
		d.store.Set(u)
		return Response{Success: true}, nil

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

// TabCreated feeds a new tab to the engine and schedules the redirect when
// the engine fires.
func (d *Dispatcher) TabCreated(_ context.Context, tab tabs.Tab) {
	decision := d.engine.OnTabCreated()
	if decision.Fire {
		d.redirector.Schedule(tab.ID)
	}
}

func (d *Dispatcher) TabRemoved(_ context.Context, tabID string) {
	d.redirector.Cancel(tabID)
}

// RunBadge keeps the badge in step with the enabled flag and mode until
// ctx is done.
func (d *Dispatcher) RunBadge(ctx context.Context) {
	if d.badge == nil {
		return
	}
	updates, cancel := d.store.Subscribe()
	defer cancel()

	current := BadgeFor(d.store.Snapshot())
	d.badge.Set(ctx, current)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			next := BadgeFor(snap)
			if next == current {
				continue
			}
			current = next
			d.badge.Set(ctx, current)
		}
	}
}

func BadgeFor(snap state.Snapshot) tabs.BadgeState {
	status := lo.Ternary(snap.Enabled, "Enabled", "Disabled")
	return tabs.BadgeState{
		Text:  lo.Ternary(snap.Enabled, "ON", "OFF"),
		Color: lo.Ternary(snap.Enabled, badgeColorOn, badgeColorOff),
		Title: fmt.Sprintf("Rickroll Extension - %s (%s)", status, snap.Mode.Title()),
		On:    snap.Enabled,
	}
}

func preferencesUpdate(req Request) (state.Update, error) {
	u := state.Update{
		IntervalProgressVisible: req.IntervalProgressVisible,
		ChanceManualEnabled:     req.ChanceManualEnabled,
		IntervalManualEnabled:   req.IntervalManualEnabled,
		RouletteManualEnabled:   req.RouletteManualEnabled,
	}
	for _, accent := range []*string{req.Accent1, req.Accent2} {
		if accent != nil && len(*accent) > maxAccentLen {
			return state.Update{}, fmt.Errorf("accent longer than %d characters", maxAccentLen)
		}
	}
	u.Accent1 = req.Accent1
	u.Accent2 = req.Accent2
	if req.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*req.Theme))
		if !lo.Contains([]string{"light", "dark"}, theme) {
			return state.Update{}, fmt.Errorf("theme must be light or dark")
		}
		u.Theme = &theme
	}
	if u.Empty() {
		return state.Update{}, fmt.Errorf("no preference fields given")
	}
	return u, nil
}

func inRange(v int) bool {
	return v >= state.MinSettingValue && v <= state.MaxSettingValue
}

func rangeMessage(field string) string {
	return fmt.Sprintf("%s must be between %d and %d", field, state.MinSettingValue, state.MaxSettingValue)
}

func rejected(message string) Response {
	return Response{Success: false, Error: message}
}
