package command

import (
	"fmt"
	"time"
)

// Args are the attributes carried by a command slot, keyed by attribute name.
type Args map[string]string

// Has reports whether the attribute is present.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Get returns the raw attribute value, or "" when absent.
func (a Args) Get(name string) string {
	return a[name]
}

func (a Args) parse(name string, kind Kind) (any, error) {
	raw, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("missing attribute %q", name)
	}
	v, err := kind.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	return v, nil
}

// Int returns the attribute parsed as an int.
func (a Args) Int(name string) (int, error) {
	v, err := a.parse(name, KindInt)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Bool returns the attribute parsed as a bool.
func (a Args) Bool(name string) (bool, error) {
	v, err := a.parse(name, KindBool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Float returns the attribute parsed as a float64.
func (a Args) Float(name string) (float64, error) {
	v, err := a.parse(name, KindFloat)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Duration returns the attribute parsed as a time.Duration.
func (a Args) Duration(name string) (time.Duration, error) {
	v, err := a.parse(name, KindDuration)
	if err != nil {
		return 0, err
	}
	return v.(time.Duration), nil
}
