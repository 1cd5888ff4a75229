package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultFeedPeriod applies to feeds listed without a period.
const DefaultFeedPeriod = 30 * time.Minute

// FeedConfig is one entry of the feeds list after defaults are applied.
type FeedConfig struct {
	URL     string
	Period  time.Duration
	Options FeedOptions
}

// FeedOptions holds the per-feed settings that override global behavior.
type FeedOptions struct {
	ID              string            `mapstructure:"id" json:"id,omitempty"`
	User            string            `mapstructure:"user" json:"user,omitempty"`
	Password        string            `mapstructure:"password" json:"password,omitempty"`
	Proxies         map[string]string `mapstructure:"proxies" json:"proxies,omitempty"`
	ProxyUser       string            `mapstructure:"proxy_user" json:"proxy_user,omitempty"`
	ProxyPassword   string            `mapstructure:"proxy_password" json:"proxy_password,omitempty"`
	KeepMin         *int              `mapstructure:"keep_min" json:"keep_min,omitempty"`
	MaxAge          *time.Duration    `mapstructure:"max_age" json:"max_age,omitempty"`
	Format          string            `mapstructure:"format" json:"format,omitempty"`
	AllowDuplicates bool              `mapstructure:"allow_duplicates" json:"allow_duplicates,omitempty"`
	Defines         map[string]string `mapstructure:"defines" json:"defines,omitempty"`
	// Extra keeps options no built-in component understands, for subscribers.
	Extra map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// Equal reports whether two option sets serialize identically.
func (o FeedOptions) Equal(other FeedOptions) bool {
	a, errA := json.Marshal(o)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// KeepMinOr returns the feed's retention floor, or fallback when unset.
func (o FeedOptions) KeepMinOr(fallback int) int {
	if o.KeepMin != nil {
		return *o.KeepMin
	}
	return fallback
}

// MaxAgeOr returns the feed's display age limit, or fallback when unset.
func (o FeedOptions) MaxAgeOr(fallback time.Duration) time.Duration {
	if o.MaxAge != nil {
		return *o.MaxAge
	}
	return fallback
}

// optionAliases maps the compact option spellings onto the canonical keys.
var optionAliases = map[string]string{
	"keepmin":         "keep_min",
	"maxage":          "max_age",
	"allowduplicates": "allow_duplicates",
	"proxyuser":       "proxy_user",
	"proxypassword":   "proxy_password",
}

// decodeFeed merges defaults with one raw feeds entry and decodes the result.
func decodeFeed(raw any, defaults map[string]any) (FeedConfig, error) {
	entry, err := feedEntryMap(raw)
	if err != nil {
		return FeedConfig{}, err
	}
	merged := normalizeOptions(defaults)
	for k, v := range normalizeOptions(entry) {
		base, isMap := merged[k].(map[string]any)
		overlay, overlayIsMap := v.(map[string]any)
		if isMap && overlayIsMap && (k == "proxies" || k == "defines") {
			for name, value := range overlay {
				base[name] = value
			}
			continue
		}
		merged[k] = v
	}

	fc := FeedConfig{Period: DefaultFeedPeriod}
	url, _ := merged["url"].(string)
	fc.URL = strings.TrimSpace(url)
	delete(merged, "url")
	if p, ok := merged["period"]; ok {
		period, err := durationValue(p, time.Minute)
		if err != nil {
			return FeedConfig{}, fmt.Errorf("feed %s: period: %w", fc.URL, err)
		}
		fc.Period = period
		delete(merged, "period")
	}

	opts, err := decodeOptions(merged)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("feed %s: %w", fc.URL, err)
	}
	fc.Options = opts
	return fc, nil
}

func decodeOptions(input map[string]any) (FeedOptions, error) {
	var opts FeedOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook(),
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return FeedOptions{}, fmt.Errorf("build option decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return FeedOptions{}, fmt.Errorf("decode options: %w", err)
	}
	if len(opts.Extra) == 0 {
		opts.Extra = nil
	}
	return opts, nil
}

// normalizeOptions lowercases keys, resolves aliases and folds "<scheme>_proxy"
// and "define_<name>" keys into the proxies and defines maps.
func normalizeOptions(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	proxies := map[string]any{}
	defines := map[string]any{}
	for k, v := range in {
		key := strings.ToLower(k)
		if alias, ok := optionAliases[key]; ok {
			key = alias
		}
		switch {
		case key == "proxies":
			if m, err := feedEntryMap(v); err == nil {
				for scheme, target := range m {
					proxies[strings.ToLower(scheme)] = target
				}
			}
		case key == "defines":
			if m, err := feedEntryMap(v); err == nil {
				for name, value := range m {
					defines[strings.ToLower(name)] = value
				}
			}
		case strings.HasSuffix(key, "_proxy") && key != "_proxy":
			proxies[strings.TrimSuffix(key, "_proxy")] = v
		case strings.HasPrefix(key, "define_") && key != "define_":
			defines[strings.TrimPrefix(key, "define_")] = v
		default:
			out[key] = v
		}
	}
	if len(proxies) > 0 {
		out["proxies"] = proxies
	}
	if len(defines) > 0 {
		out["defines"] = defines
	}
	return out
}

// feedEntryMap accepts either a mapping or a bare URL string.
func feedEntryMap(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		return map[string]any{"url": v}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[strings.ToLower(k)] = val
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[strings.ToLower(fmt.Sprint(k))] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected feed entry of type %T", raw)
	}
}
