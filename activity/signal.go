// Package activity tracks whether the user is interacting with the app.
package activity

import (
	"fmt"
	"strings"
)

// Signal is a kind of user interaction.
type Signal string

const (
	SignalPointer  Signal = "pointer"
	SignalKeyboard Signal = "keyboard"
	SignalScroll   Signal = "scroll"
	SignalTouch    Signal = "touch"
	SignalFocus    Signal = "focus"
)

var signals = []Signal{SignalPointer, SignalKeyboard, SignalScroll, SignalTouch, SignalFocus}

// Signals returns every interaction kind a tracker listens to.
func Signals() []Signal {
	return append([]Signal(nil), signals...)
}

func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range signals {
		if sig == known {
			return sig, nil
		}
	}
	return "", fmt.Errorf("activity: unknown signal %q", s)
}
