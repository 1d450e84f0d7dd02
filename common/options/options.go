// Package options holds the string key/value options of readers and writers.
package options

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Options are the case-insensitive string options of a reader.
type Options map[string]string

func (o Options) Get(key string) (string, bool) {
	for k, v := range o {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (o Options) String(key, defaultValue string) string {
	if v, ok := o.Get(key); ok {
		return v
	}
	return defaultValue
}

func (o Options) Int(key string, defaultValue int64) (int64, error) {
	v, ok := o.Get(key)
	if !ok {
		return defaultValue, nil
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Errorf("option %s: %q is not an integer", key, v)
	}
	return i, nil
}

func (o Options) Bool(key string, defaultValue bool) (bool, error) {
	v, ok := o.Get(key)
	if !ok {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, errors.Errorf("option %s: %q is not a boolean", key, v)
	}
	return b, nil
}

func (o Options) Required(key string) (string, error) {
	v, ok := o.Get(key)
	if !ok || v == "" {
		return "", errors.Errorf("option %s is required", key)
	}
	return v, nil
}
