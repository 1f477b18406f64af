// Package score resolves the active environment's performances and renders
// the command line each performer runs.
package score

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/orchestral/internal/config"
)

// Defaults applied when a performance omits a field.
const (
	DefaultInstances = 1
	DefaultMemoryMB  = 512
)

// Performance is the resolved definition of one named group of performers.
type Performance struct {
	Name       string
	Command    string
	Instances  uint
	MemoryMB   uint
	Timeout    *uint
	RetryAfter *uint
	Nice       int
	Env        []string
	Options    config.Options
}

// InstanceNames returns base-1..base-N when Instances > 1, otherwise the bare name.
func (p Performance) InstanceNames() []string {
	if p.Instances <= 1 {
		return []string{p.Name}
	}
	names := make([]string, 0, p.Instances)
	for i := uint(1); i <= p.Instances; i++ {
		names = append(names, fmt.Sprintf("%s-%d", p.Name, i))
	}
	return names
}

// Score is the read-only plan for one invocation.
type Score struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Score {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Score{cfg: cfg}
}

func (s *Score) Config() *config.Config { return s.cfg }

func (s *Score) Environment() string { return s.cfg.Environment }

// Performances returns the active environment's performances; an unknown
// environment yields an empty map.
func (s *Score) Performances() map[string]Performance {
	raw := s.cfg.Performances[s.cfg.Environment]
	out := make(map[string]Performance, len(raw))
	for name, p := range raw {
		out[name] = resolve(name, p)
	}
	return out
}

// Names returns the active performance names, sorted.
func (s *Score) Names() []string {
	raw := s.cfg.Performances[s.cfg.Environment]
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Score) Performance(name string) (Performance, bool) {
	p, ok := s.cfg.Performances[s.cfg.Environment][name]
	if !ok {
		return Performance{}, false
	}
	return resolve(name, p), true
}

var instanceSuffix = regexp.MustCompile(`-\d+$`)

// BaseName strips a trailing -N instance suffix.
func BaseName(instance string) string {
	return instanceSuffix.ReplaceAllString(instance, "")
}

// PerformanceFor resolves the performance an instance belongs to. The
// stripped base name wins; the full name is the fallback for performances
// whose own name ends in -N.
func (s *Score) PerformanceFor(instance string) (Performance, bool) {
	if p, ok := s.Performance(BaseName(instance)); ok {
		return p, true
	}
	return s.Performance(instance)
}

func resolve(name string, p config.Performance) Performance {
	out := Performance{
		Name:       name,
		Command:    p.Command,
		Instances:  p.Performers,
		MemoryMB:   p.Memory,
		Timeout:    p.Timeout,
		RetryAfter: p.RetryAfter,
		Nice:       p.Nice,
		Env:        p.Env,
		Options:    p.Options,
	}
	if out.Instances == 0 {
		out.Instances = DefaultInstances
	}
	if out.MemoryMB == 0 {
		out.MemoryMB = DefaultMemoryMB
	}
	return out
}

// Program is the prefix every command starts with.
func (s *Score) Program() string {
	if s.cfg.Program == "" {
		return "php artisan"
	}
	return s.cfg.Program
}

// BuildCommand renders "<program> <command>" followed by each option in
// declaration order. No escaping is applied.
func (s *Score) BuildCommand(p Performance) string {
	var b strings.Builder
	b.WriteString(s.Program())
	b.WriteByte(' ')
	b.WriteString(p.Command)
	for _, opt := range p.Options {
		b.WriteByte(' ')
		if opt.Positional() {
			b.WriteString(FormatValue(opt.Value))
			continue
		}
		b.WriteString(opt.Key)
		b.WriteByte('=')
		b.WriteString(FormatValue(opt.Value))
	}
	return b.String()
}

// FormatValue renders an option value: true as "1", false as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, FormatValue(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

func (s *Score) RestartOnFailure() bool { return s.cfg.Management.RestartOnFailure }

func (s *Score) RestartDelay() time.Duration {
	return seconds(s.cfg.Management.RestartDelay, 5)
}

func (s *Score) MaxRestartAttempts() int {
	if s.cfg.Management.MaxRestartAttempts <= 0 {
		return 10
	}
	return s.cfg.Management.MaxRestartAttempts
}

func (s *Score) RestartWindow() time.Duration {
	return seconds(s.cfg.Management.RestartWindow, 3600)
}

func (s *Score) GracefulShutdownTimeout() time.Duration {
	return seconds(s.cfg.Management.GracefulShutdownTimeout, 30)
}

// HealthCheckInterval is always positive; zero falls back to the default.
func (s *Score) HealthCheckInterval() time.Duration {
	if s.cfg.Management.HealthCheckInterval <= 0 {
		return 60 * time.Second
	}
	return seconds(s.cfg.Management.HealthCheckInterval, 60)
}

// MemoryAlertThreshold is a percentage of a performance's memory limit.
func (s *Score) MemoryAlertThreshold() int {
	if s.cfg.Monitoring.MemoryAlertThreshold <= 0 {
		return 90
	}
	return s.cfg.Monitoring.MemoryAlertThreshold
}

func (s *Score) TrackMemory() bool { return s.cfg.Monitoring.TrackMemory }

func (s *Score) TrackCPU() bool { return s.cfg.Monitoring.TrackCPU }

func seconds(v, def int) time.Duration {
	if v < 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
