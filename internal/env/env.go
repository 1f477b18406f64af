// Package env composes the environment handed to spawned performers.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers variables: OS base (optional), then global overrides, then per-performance overrides.
type Env struct {
	Var    Var // global variables (K->V)
	base   Var
	withOS bool
}

// New returns an Env. When withOS is true the current process environment is the base layer.
func New(withOS bool) *Env {
	return &Env{Var: make(Var), withOS: withOS}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = parse(os.Environ())
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies a list of "K=V" entries in order; later entries win.
func (e *Env) SetAll(kvs []string) {
	for k, v := range parse(kvs) {
		e.Set(k, v)
	}
}

// Merge composes the final environment for one performer, expanding ${VAR}
// references against the composed map. Output is sorted by key.
func (e *Env) Merge(perPerformance []string) []string {
	if e.withOS && e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perPerformance))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range parse(perPerformance) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expand replaces ${VAR} with values from m; unknown references are left as-is.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
