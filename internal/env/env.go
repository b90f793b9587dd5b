package env

import (
	"os"
	"strings"
)

// Env composes the environment handed to launched server subprocesses:
// the daemon's own environment as the base, per-server "K=V" overrides
// applied on top, and ${VAR} placeholders expanded against the composed
// set (single pass, no recursion).
type Env struct {
	base map[string]string
}

func New() *Env {
	return &Env{}
}

// FromOS caches the daemon's current environment as the base.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.base = base
}

// Merge applies the per-server overrides to the base environment and
// returns the result in "K=V" form. Malformed entries without '=' or
// with an empty key are skipped.
func (e *Env) Merge(overrides []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(overrides))
	for k, v := range e.base {
		m[k] = v
	}
	for _, kv := range overrides {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
