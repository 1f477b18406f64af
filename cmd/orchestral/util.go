package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/loykin/orchestral"
	"github.com/loykin/orchestral/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func toClientStatus(st orchestral.Status, health map[string]orchestral.Health) client.Status {
	out := client.Status{
		Conducting:  st.Conducting,
		Environment: st.Environment,
		Performers:  make([]client.PerformerStatus, 0, len(st.Performers)),
		Total:       st.Total,
		Running:     st.Running,
	}
	for _, p := range st.Performers {
		out.Performers = append(out.Performers, client.PerformerStatus(p))
	}
	if health != nil {
		out.Health = toClientHealth(health)
	}
	return out
}

func toClientHealth(in map[string]orchestral.Health) map[string]client.Health {
	out := make(map[string]client.Health, len(in))
	for name, h := range in {
		out[name] = client.Health{
			Healthy: h.Healthy,
			Issues:  h.Issues,
			Metrics: client.HealthMetrics(h.Metrics),
		}
	}
	return out
}

func toClientInstruments(in map[string]orchestral.Instrument) map[string]client.Instrument {
	out := make(map[string]client.Instrument, len(in))
	for name, ins := range in {
		out[name] = client.Instrument{
			Command:     ins.Command,
			CommandLine: ins.CommandLine,
			Performers:  ins.Performers,
			Memory:      ins.Memory,
			Timeout:     ins.Timeout,
			RetryAfter:  ins.RetryAfter,
			Nice:        ins.Nice,
			Options:     ins.OptionsMap,
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatMB renders a megabyte reading in IEC units, "-" when unknown.
func formatMB(mb *float64) string {
	if mb == nil {
		return "-"
	}
	return humanize.IBytes(uint64(*mb * 1024 * 1024))
}

func formatPercent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func printStatusTable(w io.Writer, st client.Status) {
	state := "paused"
	if st.Conducting {
		state = "conducting"
	}
	_, _ = fmt.Fprintf(w, "Environment: %s (%s), %d/%d running\n", st.Environment, state, st.Running, st.Total)
	if len(st.Performers) == 0 {
		_, _ = fmt.Fprintln(w, "No performers running.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPID\tUPTIME\tMEMORY\tCPU\tRESTARTS\tCOMMAND")
	for _, p := range st.Performers {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			p.Name, p.PID, p.Uptime, formatMB(p.MemoryMB), formatPercent(p.CPUPercent), p.RestartAttempts, p.Command)
	}
	_ = tw.Flush()
}

func printInstrumentsTable(w io.Writer, ins map[string]client.Instrument) {
	if len(ins) == 0 {
		_, _ = fmt.Fprintln(w, "No performances configured.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPERFORMERS\tMEMORY\tNICE\tCOMMAND LINE")
	for _, name := range sortedKeys(ins) {
		i := ins[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d MB\t%d\t%s\n", name, i.Performers, i.Memory, i.Nice, i.CommandLine)
	}
	_ = tw.Flush()
}

func printHealthTable(w io.Writer, health map[string]client.Health) {
	if len(health) == 0 {
		_, _ = fmt.Fprintln(w, "No health data: only performers started by a running daemon are checked.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tHEALTHY\tMEMORY\tCPU\tISSUES")
	for _, name := range sortedKeys(health) {
		h := health[name]
		issues := strings.Join(h.Issues, "; ")
		if issues == "" {
			issues = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n",
			name, h.Healthy, formatMB(h.Metrics.MemoryMB), formatPercent(h.Metrics.CPUPercent), issues)
	}
	_ = tw.Flush()
}
