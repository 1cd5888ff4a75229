package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration parses "90", "30s", "10m", "3h", "2d" or "1w". A bare number is
// interpreted in unit. Go duration strings such as "1h30m" are accepted too.
func ParseDuration(s string, unit time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * unit, nil
	}
	if mult, ok := durationUnits[s[len(s)-1]]; ok {
		if n, err := strconv.Atoi(s[:len(s)-1]); err == nil {
			return time.Duration(n) * mult, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// durationValue converts a decoded YAML scalar into a duration.
func durationValue(v any, unit time.Duration) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * unit, nil
	case int64:
		return time.Duration(val) * unit, nil
	case uint64:
		return time.Duration(val) * unit, nil
	case float64:
		return time.Duration(val * float64(unit)), nil
	case string:
		return ParseDuration(val, unit)
	default:
		return 0, fmt.Errorf("invalid duration %v", v)
	}
}

// durationHook decodes durations with minutes as the bare-number unit.
func durationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		return durationValue(data, time.Minute)
	}
}
