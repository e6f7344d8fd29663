// Package settings holds the automatic closure configuration and the
// providers that load and persist it.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid closure settings")

// Storage keys in closure_settings.
const (
	KeyAutoClosureEnabled = "auto_closure_enabled"
	KeyDailyClosureTime   = "daily_closure_time"
	KeyTimezone           = "timezone"
	KeyGracePeriodMinutes = "grace_period_minutes"
)

// Settings controls the automatic daily closure.
type Settings struct {
	AutoClosureEnabled bool   `json:"auto_closure_enabled"`
	DailyClosureTime   string `json:"daily_closure_time"` // HH:MM, local to Timezone
	Timezone           string `json:"timezone"`           // IANA name
	GracePeriodMinutes int    `json:"grace_period_minutes"`
}

// Defaults returns the settings used when nothing is stored.
func Defaults() Settings {
	return Settings{
		AutoClosureEnabled: true,
		DailyClosureTime:   "02:00",
		Timezone:           "Europe/Paris",
		GracePeriodMinutes: 30,
	}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if _, _, err := s.ClockTime(); err != nil {
		return err
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if s.GracePeriodMinutes < 0 || s.GracePeriodMinutes > 24*60 {
		return fmt.Errorf("grace_period_minutes %d out of range: %w", s.GracePeriodMinutes, ErrInvalid)
	}
	return nil
}

// ClockTime parses DailyClosureTime into hour and minute.
func (s Settings) ClockTime() (int, int, error) {
	t, err := time.Parse("15:04", s.DailyClosureTime)
	if err != nil {
		return 0, 0, fmt.Errorf("daily_closure_time %q: %w", s.DailyClosureTime, ErrInvalid)
	}
	return t.Hour(), t.Minute(), nil
}

// Location loads the configured time zone.
func (s Settings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return nil, fmt.Errorf("timezone is empty: %w", ErrInvalid)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", s.Timezone, ErrInvalid)
	}
	return loc, nil
}

// Grace returns the grace period as a duration.
func (s Settings) Grace() time.Duration {
	return time.Duration(s.GracePeriodMinutes) * time.Minute
}

// TargetOn returns the closure instant for the business day containing ref.
func (s Settings) TargetOn(ref time.Time) (time.Time, error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := s.ClockTime()
	if err != nil {
		return time.Time{}, err
	}
	d := ref.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// fromRows overlays stored key/value rows on the defaults. Unknown keys are ignored.
func fromRows(rows map[string]string) (Settings, error) {
	s := Defaults()
	for k, v := range rows {
		v = strings.TrimSpace(v)
		switch k {
		case KeyAutoClosureEnabled:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return s, fmt.Errorf("%s=%q: %w", k, v, ErrInvalid)
			}
			s.AutoClosureEnabled = b
		case KeyDailyClosureTime:
			s.DailyClosureTime = v
		case KeyTimezone:
			s.Timezone = v
		case KeyGracePeriodMinutes:
			n, err := strconv.Atoi(v)
			if err != nil {
				return s, fmt.Errorf("%s=%q: %w", k, v, ErrInvalid)
			}
			s.GracePeriodMinutes = n
		}
	}
	return s, s.Validate()
}

func (s Settings) rows() map[string]string {
	return map[string]string{
		KeyAutoClosureEnabled: strconv.FormatBool(s.AutoClosureEnabled),
		KeyDailyClosureTime:   s.DailyClosureTime,
		KeyTimezone:           s.Timezone,
		KeyGracePeriodMinutes: strconv.Itoa(s.GracePeriodMinutes),
	}
}
