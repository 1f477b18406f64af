package config

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Option is one command-line option of a performance.
// An empty or numeric Key marks a positional value.
type Option struct {
	Key   string
	Value any
}

// Positional reports whether the option renders as a bare value.
func (o Option) Positional() bool {
	if o.Key == "" {
		return true
	}
	_, err := strconv.Atoi(o.Key)
	return err == nil
}

// Options keeps declaration order.
type Options []Option

// Map returns the options keyed by flag, for display.
func (o Options) Map() map[string]any {
	m := make(map[string]any, len(o))
	for _, opt := range o {
		m[opt.Key] = opt.Value
	}
	return m
}

type rawPerformance struct {
	Performance
	Options map[string]any `toml:"options"`
}

type rawFile struct {
	Performances map[string]map[string]rawPerformance `toml:"performances"`
}

// LoadPerformances decodes the performances tree of a TOML file, preserving
// name case and the declaration order of each options table.
func LoadPerformances(path string) (map[string]map[string]Performance, error) {
	var raw rawFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode performances: %w", err)
	}
	return buildPerformances(raw, md), nil
}

// DecodePerformances is LoadPerformances for in-memory TOML.
func DecodePerformances(data string) (map[string]map[string]Performance, error) {
	var raw rawFile
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode performances: %w", err)
	}
	return buildPerformances(raw, md), nil
}

func buildPerformances(raw rawFile, md toml.MetaData) map[string]map[string]Performance {
	// performances.<env>.<name>.options.<key>
	order := map[[2]string][]string{}
	for _, k := range md.Keys() {
		if len(k) == 5 && k[0] == "performances" && k[3] == "options" {
			id := [2]string{k[1], k[2]}
			order[id] = append(order[id], k[4])
		}
	}
	out := make(map[string]map[string]Performance, len(raw.Performances))
	for env, perfs := range raw.Performances {
		m := make(map[string]Performance, len(perfs))
		for name, rp := range perfs {
			p := rp.Performance
			p.Options = orderedOptions(rp.Options, order[[2]string{env, name}])
			m[name] = p
		}
		out[env] = m
	}
	return out
}

func orderedOptions(values map[string]any, keys []string) Options {
	if len(values) == 0 {
		return nil
	}
	opts := make(Options, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, k := range keys {
		v, ok := values[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		opts = append(opts, Option{Key: k, Value: v})
	}
	// anything the metadata did not order goes last, sorted for stability
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		opts = append(opts, Option{Key: k, Value: values[k]})
	}
	return opts
}
