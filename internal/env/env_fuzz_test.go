package env

import (
	"strings"
	"testing"
)

// FuzzMerge fuzzes Merge with random override sets to ensure no panics
// and basic invariants around ${VAR} expansion.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"))
	f.Add([]byte("FOO=${FOO}"))
	f.Add([]byte("X=${Y}\nY=${X}")) // cyclic-like
	f.Add([]byte("=bad\nnoequals"))

	f.Fuzz(func(t *testing.T, raw []byte) {
		overrides := splitNZ(string(raw))
		if len(overrides) > 20 {
			overrides = overrides[:20]
		}

		e := New()
		e.base = map[string]string{"HOME": "/home/mc"}
		out := e.Merge(overrides)

		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
		// Without '$' in any input, no placeholder may survive expansion.
		containsDollar := false
		for _, s := range overrides {
			if strings.ContainsRune(s, '$') {
				containsDollar = true
				break
			}
		}
		if !containsDollar {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("unexpected placeholder remains: %q", kv)
				}
			}
		}
	})
}

// splitNZ splits s by newlines and returns non-empty trimmed lines.
func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
