package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options is the free-form configuration of one source, taken from the
// "sources.<plugin>" config section. Keys are case-insensitive.
type Options map[string]any

// For returns the options of one sub-source: plugin-level scalars overlaid
// with the nested map stored under the sub-source name.
func (o Options) For(sub string) Options {
	out := make(Options, len(o))
	for k, v := range o {
		if _, nested := asMap(v); !nested {
			out[strings.ToLower(k)] = v
		}
	}
	if nested, ok := asMap(o.lookup(sub)); ok {
		for k, v := range nested {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}

// String returns the value at key, or def when unset or empty.
func (o Options) String(key, def string) string {
	v := o.lookup(key)
	if v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

// Int returns the integer at key, or def when unset or unparseable.
func (o Options) Int(key string, def int) int {
	switch v := o.lookup(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Duration returns the duration at key (a Go duration string or seconds), or def.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o.lookup(key).(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

func (o Options) lookup(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	for k, v := range o {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Options:
		return m, true
	}
	return nil, false
}
