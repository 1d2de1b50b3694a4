package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidMode  = errors.New("invalid mode")
	ErrNotSupported = errors.New("not supported")
	ErrClosed       = errors.New("store closed")
)

// Persisted keys. The namespace is flat and every key is read and written
// independently of the others.
const (
	KeyTabCount                = "tabCount"
	KeyIsEnabled               = "isEnabled"
	KeyRandomChance            = "randomChance"
	KeyMode                    = "mode"
	KeyIntervalValue           = "intervalValue"
	KeyRouletteProgress        = "rouletteProgress"
	KeyRouletteTarget          = "rouletteTarget"
	KeyRickrollCount           = "rickrollCount"
	KeyIntervalProgressVisible = "intervalProgressVisible"
	KeyChanceManualEnabled     = "chanceManualEnabled"
	KeyIntervalManualEnabled   = "intervalManualEnabled"
	KeyRouletteManualEnabled   = "rouletteManualEnabled"
	KeyAccent1                 = "accent1"
	KeyAccent2                 = "accent2"
	KeyConfigJSON              = "configJson"
	KeyRemoteConfigURL         = "remoteConfigUrl"
	KeyLastConfigCheck         = "lastConfigCheck"
	KeyTheme                   = "theme"
	KeyConfigVersion           = "configVersion"
)

// Keys lists every persisted key in a stable order.
var Keys = []string{
	KeyTabCount,
	KeyIsEnabled,
	KeyRandomChance,
	KeyMode,
	KeyIntervalValue,
	KeyRouletteProgress,
	KeyRouletteTarget,
	KeyRickrollCount,
	KeyIntervalProgressVisible,
	KeyChanceManualEnabled,
	KeyIntervalManualEnabled,
	KeyRouletteManualEnabled,
	KeyAccent1,
	KeyAccent2,
	KeyConfigJSON,
	KeyRemoteConfigURL,
	KeyLastConfigCheck,
	KeyTheme,
	KeyConfigVersion,
}

const (
	DefaultRollChance    = 250
	DefaultIntervalValue = 50
	DefaultConfigVersion = "0.0.0"
	DefaultTheme         = "dark"

	MinSettingValue = 1
	MaxSettingValue = 1000
)

// Mode selects the redirect policy.
type Mode string

const (
	ModeRoll     Mode = "roll"
	ModeInterval Mode = "interval"
	ModeRoulette Mode = "roulette"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeRoll:
		return ModeRoll, nil
	case ModeInterval:
		return ModeInterval, nil
	case ModeRoulette:
		return ModeRoulette, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

func (m Mode) Valid() bool {
	_, err := ParseMode(string(m))
	return err == nil
}

// Title is the capitalized name shown on the badge tooltip.
func (m Mode) Title() string {
	switch m {
	case ModeInterval:
		return "Interval"
	case ModeRoulette:
		return "Roulette"
	default:
		return "Roll"
	}
}

type Settings struct {
	Enabled       bool   `json:"isEnabled"`
	Mode          Mode   `json:"mode"`
	RollChance    int    `json:"randomChance"`
	IntervalValue int    `json:"intervalValue"`
	ConfigVersion string `json:"configVersion"`
}

type Counters struct {
	TabCount         int `json:"tabCount"`
	RouletteProgress int `json:"rouletteProgress"`
	RouletteTarget   int `json:"rouletteTarget"`
	RickrollCount    int `json:"rickrollCount"`
}

// Preferences are cosmetic values owned by the UI surface. They are stored
// and merged but never consulted when deciding a redirect.
type Preferences struct {
	IntervalProgressVisible bool   `json:"intervalProgressVisible"`
	ChanceManualEnabled     bool   `json:"chanceManualEnabled"`
	IntervalManualEnabled   bool   `json:"intervalManualEnabled"`
	RouletteManualEnabled   bool   `json:"rouletteManualEnabled"`
	Accent1                 string `json:"accent1"`
	Accent2                 string `json:"accent2"`
	Theme                   string `json:"theme"`
}

type Snapshot struct {
	Settings
	Counters
	Preferences
	ConfigJSON      string `json:"configJson"`
	RemoteConfigURL string `json:"remoteConfigUrl"`
	LastConfigCheck int64  `json:"lastConfigCheck"`
}

func Defaults() Snapshot {
	return Snapshot{
		Settings: Settings{
			Enabled:       true,
			Mode:          ModeRoll,
			RollChance:    DefaultRollChance,
			IntervalValue: DefaultIntervalValue,
			ConfigVersion: DefaultConfigVersion,
		},
		Preferences: Preferences{
			Theme: DefaultTheme,
		},
	}
}

// Update is a partial mutation. Nil fields are left untouched.
type Update struct {
	Enabled       *bool
	Mode          *Mode
	RollChance    *int
	IntervalValue *int
	ConfigVersion *string

	TabCount         *int
	RouletteProgress *int
	RouletteTarget   *int
	RickrollCount    *int

	IntervalProgressVisible *bool
	ChanceManualEnabled     *bool
	IntervalManualEnabled   *bool
	RouletteManualEnabled   *bool
	Accent1                 *string
	Accent2                 *string
	Theme                   *string

	ConfigJSON      *string
	RemoteConfigURL *string
	LastConfigCheck *int64
}

func (u Update) Empty() bool {
	return len(u.values()) == 0
}

// Keys returns the persisted keys touched by the update.
func (u Update) Keys() []string {
	values := u.values()
	out := make([]string, 0, len(values))
	for _, key := range Keys {
		if _, ok := values[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// ApplyTo copies the set fields of u onto s.
func (u Update) ApplyTo(s *Snapshot) {
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.Mode != nil {
		s.Mode = *u.Mode
	}
	if u.RollChance != nil {
		s.RollChance = *u.RollChance
	}
	if u.IntervalValue != nil {
		s.IntervalValue = *u.IntervalValue
	}
	if u.ConfigVersion != nil {
		s.ConfigVersion = *u.ConfigVersion
	}
	if u.TabCount != nil {
		s.TabCount = *u.TabCount
	}
	if u.RouletteProgress != nil {
		s.RouletteProgress = *u.RouletteProgress
	}
	if u.RouletteTarget != nil {
		s.RouletteTarget = *u.RouletteTarget
	}
	if u.RickrollCount != nil {
		s.RickrollCount = *u.RickrollCount
	}
	if u.IntervalProgressVisible != nil {
		s.IntervalProgressVisible = *u.IntervalProgressVisible
	}
	if u.ChanceManualEnabled != nil {
		s.ChanceManualEnabled = *u.ChanceManualEnabled
	}
	if u.IntervalManualEnabled != nil {
		s.IntervalManualEnabled = *u.IntervalManualEnabled
	}
	if u.RouletteManualEnabled != nil {
		s.RouletteManualEnabled = *u.RouletteManualEnabled
	}
	if u.Accent1 != nil {
		s.Accent1 = *u.Accent1
	}
	if u.Accent2 != nil {
		s.Accent2 = *u.Accent2
	}
	if u.Theme != nil {
		s.Theme = *u.Theme
	}
	if u.ConfigJSON != nil {
		s.ConfigJSON = *u.ConfigJSON
	}
	if u.RemoteConfigURL != nil {
		s.RemoteConfigURL = *u.RemoteConfigURL
	}
	if u.LastConfigCheck != nil {
		s.LastConfigCheck = *u.LastConfigCheck
	}
}

func (u Update) values() map[string]any {
	out := map[string]any{}
	put := func(key string, ok bool, value func() any) {
		if ok {
			out[key] = value()
		}
	}
	put(KeyIsEnabled, u.Enabled != nil, func() any { return *u.Enabled })
	put(KeyMode, u.Mode != nil, func() any { return *u.Mode })
	put(KeyRandomChance, u.RollChance != nil, func() any { return *u.RollChance })
	put(KeyIntervalValue, u.IntervalValue != nil, func() any { return *u.IntervalValue })
	put(KeyConfigVersion, u.ConfigVersion != nil, func() any { return *u.ConfigVersion })
	put(KeyTabCount, u.TabCount != nil, func() any { return *u.TabCount })
	put(KeyRouletteProgress, u.RouletteProgress != nil, func() any { return *u.RouletteProgress })
	put(KeyRouletteTarget, u.RouletteTarget != nil, func() any { return *u.RouletteTarget })
	put(KeyRickrollCount, u.RickrollCount != nil, func() any { return *u.RickrollCount })
	put(KeyIntervalProgressVisible, u.IntervalProgressVisible != nil, func() any { return *u.IntervalProgressVisible })
	put(KeyChanceManualEnabled, u.ChanceManualEnabled != nil, func() any { return *u.ChanceManualEnabled })
	put(KeyIntervalManualEnabled, u.IntervalManualEnabled != nil, func() any { return *u.IntervalManualEnabled })
	put(KeyRouletteManualEnabled, u.RouletteManualEnabled != nil, func() any { return *u.RouletteManualEnabled })
	put(KeyAccent1, u.Accent1 != nil, func() any { return *u.Accent1 })
	put(KeyAccent2, u.Accent2 != nil, func() any { return *u.Accent2 })
	put(KeyTheme, u.Theme != nil, func() any { return *u.Theme })
	put(KeyConfigJSON, u.ConfigJSON != nil, func() any { return *u.ConfigJSON })
	put(KeyRemoteConfigURL, u.RemoteConfigURL != nil, func() any { return *u.RemoteConfigURL })
	put(KeyLastConfigCheck, u.LastConfigCheck != nil, func() any { return *u.LastConfigCheck })
	return out
}

// Full returns an update that rewrites every key from s.
func Full(s Snapshot) Update {
	return Update{
		Enabled:                 &s.Enabled,
		Mode:                    &s.Mode,
		RollChance:              &s.RollChance,
		IntervalValue:           &s.IntervalValue,
		ConfigVersion:           &s.ConfigVersion,
		TabCount:                &s.TabCount,
		RouletteProgress:        &s.RouletteProgress,
		RouletteTarget:          &s.RouletteTarget,
		RickrollCount:           &s.RickrollCount,
		IntervalProgressVisible: &s.IntervalProgressVisible,
		ChanceManualEnabled:     &s.ChanceManualEnabled,
		IntervalManualEnabled:   &s.IntervalManualEnabled,
		RouletteManualEnabled:   &s.RouletteManualEnabled,
		Accent1:                 &s.Accent1,
		Accent2:                 &s.Accent2,
		Theme:                   &s.Theme,
		ConfigJSON:              &s.ConfigJSON,
		RemoteConfigURL:         &s.RemoteConfigURL,
		LastConfigCheck:         &s.LastConfigCheck,
	}
}

// decodeKey applies one persisted value onto s. An unknown key is ignored.
func decodeKey(s *Snapshot, key string, raw json.RawMessage) error {
	var target any
	switch key {
	case KeyIsEnabled:
		target = &s.Enabled
	case KeyMode:
		var rawMode string
		if err := json.Unmarshal(raw, &rawMode); err != nil {
			return err
		}
		mode, err := ParseMode(rawMode)
		if err != nil {
			return err
		}
		s.Mode = mode
		return nil
	case KeyRandomChance:
		return decodeBoundedInt(raw, &s.RollChance, MinSettingValue)
	case KeyIntervalValue:
		return decodeBoundedInt(raw, &s.IntervalValue, MinSettingValue)
	case KeyConfigVersion:
		target = &s.ConfigVersion
	case KeyTabCount:
		return decodeBoundedInt(raw, &s.TabCount, 0)
	case KeyRouletteProgress:
		return decodeBoundedInt(raw, &s.RouletteProgress, 0)
	case KeyRouletteTarget:
		return decodeBoundedInt(raw, &s.RouletteTarget, 0)
	case KeyRickrollCount:
		return decodeBoundedInt(raw, &s.RickrollCount, 0)
	case KeyIntervalProgressVisible:
		target = &s.IntervalProgressVisible
	case KeyChanceManualEnabled:
		target = &s.ChanceManualEnabled
	case KeyIntervalManualEnabled:
		target = &s.IntervalManualEnabled
	case KeyRouletteManualEnabled:
		target = &s.RouletteManualEnabled
	case KeyAccent1:
		target = &s.Accent1
	case KeyAccent2:
		target = &s.Accent2
	case KeyTheme:
		target = &s.Theme
	case KeyConfigJSON:
		target = &s.ConfigJSON
	case KeyRemoteConfigURL:
		target = &s.RemoteConfigURL
	case KeyLastConfigCheck:
		target = &s.LastConfigCheck
	default:
		return nil
	}
	return json.Unmarshal(raw, target)
}

func decodeBoundedInt(raw json.RawMessage, dst *int, min int) error {
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	if value < min {
		return fmt.Errorf("%w: %d is below %d", ErrInvalidInput, value, min)
	}
	*dst = value
	return nil
}

func encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}
