package markov

import (
	"fmt"
	"strconv"
	"time"
)

// Recognized per-conversation setting keys.
const (
	SettingOrder               = "order"
	SettingRandomReplyChance   = "random_reply_chance"
	SettingInactivityThreshold = "inactivity_threshold"
	SettingWordFromUserChance  = "word_from_user_chance"
)

// Settings is one conversation's effective configuration. A copy lives on
// every conversation; process-wide defaults fill it on first contact.
type Settings struct {
	Order               int
	RandomReplyChance   float64
	InactivityThreshold time.Duration
	WordFromUserChance  float64
}

// SettingKeys lists the recognized keys in display order.
func SettingKeys() []string {
	return []string{
		SettingOrder,
		SettingRandomReplyChance,
		SettingInactivityThreshold,
		SettingWordFromUserChance,
	}
}

// WithValue returns a copy with key set from its string form. Unrecognized
// keys and out-of-range values yield ErrInvalidSetting; the receiver is
// never modified.
func (s Settings) WithValue(key, value string) (Settings, error) {
	switch key {
	case SettingOrder:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return s, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidSetting, key, value)
		}
		s.Order = n
	case SettingRandomReplyChance:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return s, fmt.Errorf("%w: %s must be a float in [0,1], got %q", ErrInvalidSetting, key, value)
		}
		s.RandomReplyChance = f
	case SettingInactivityThreshold:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return s, fmt.Errorf("%w: %s must be a non-negative integer of seconds, got %q", ErrInvalidSetting, key, value)
		}
		s.InactivityThreshold = time.Duration(n) * time.Second
	case SettingWordFromUserChance:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return s, fmt.Errorf("%w: %s must be a float in [0,1], got %q", ErrInvalidSetting, key, value)
		}
		s.WordFromUserChance = f
	default:
		return s, fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	return s, nil
}
