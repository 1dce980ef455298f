package action

import (
	"sort"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Canonical modifier order of a key chord.
var modifierOrder = []string{"ctrl", "alt", "shift", "cmd"}

var keyAliases = map[string]string{
	"control": "ctrl",
	"option":  "alt",
	"opt":     "alt",
	"command": "cmd",
	"meta":    "cmd",
	"super":   "cmd",
	"win":     "cmd",
}

// NormalizeKeys returns the chord as modifiers in canonical order followed by
// the other keys sorted, so any ordering of the same chord is identical. Tokens are lower-cased, aliases mapped,
// and "ctrl+s" style tokens split. Repeated keys are kept once.
func NormalizeKeys(keys []string) ([]string, error) {
	var tokens []string
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "+" {
			tokens = append(tokens, k)
			continue
		}
		for _, part := range strings.Split(k, "+") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				tokens = append(tokens, part)
			}
		}
	}
	if len(tokens) == 0 {
		return nil, core.ErrInvalidStep.WithMessage("key_combo requires at least one key")
	}

	seen := make(map[string]bool, len(tokens))
	var rest []string
	for _, tok := range tokens {
		if alias, ok := keyAliases[tok]; ok {
			tok = alias
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if !isModifier(tok) {
			rest = append(rest, tok)
		}
	}

	out := make([]string, 0, len(seen))
	for _, m := range modifierOrder {
		if seen[m] {
			out = append(out, m)
		}
	}
	sort.Strings(rest)
	return append(out, rest...), nil
}

func isModifier(k string) bool {
	for _, m := range modifierOrder {
		if k == m {
			return true
		}
	}
	return false
}
