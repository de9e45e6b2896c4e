package config

import (
	"fmt"
	"strconv"
)

// ConfigBackend is where persisted settings live: UserDefaults on macOS,
// a JSON file under XDG_CONFIG_HOME elsewhere. Secrets never go here.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// getBool reads a boolean stored as a string. ok is false for a missing or
// empty key.
func getBool(b ConfigBackend, key string) (val, ok bool, err error) {
	raw, ok, err := b.GetString(key)
	if err != nil || !ok || raw == "" {
		return false, false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, true, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return v, true, nil
}
