package registry

import "time"

// ProcessRecord is the persisted identity of one performer.
// PID 0 means unknown; such a record is never running.
type ProcessRecord struct {
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	// ProcStart is the OS start time of PID (unix seconds), 0 when unknown.
	ProcStart int64 `json:"proc_start,omitempty"`

	RestartAttempts        int        `json:"restart_attempts,omitempty"`
	RestartWindowStartedAt *time.Time `json:"restart_window_started_at,omitempty"`
	LastRestartAt          *time.Time `json:"last_restart_at,omitempty"`
}

// Entry is anything the save path accepts: a persisted record or a live performer handle.
type Entry interface {
	ProcessRecord() ProcessRecord
}

func (r ProcessRecord) ProcessRecord() ProcessRecord { return r }

// Normalize maps entries to canonical records. Duplicate names keep the last
// entry, at the position of the first occurrence.
func Normalize[E Entry](entries ...E) []ProcessRecord {
	out := make([]ProcessRecord, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		r := e.ProcessRecord()
		if i, ok := index[r.Name]; ok {
			out[i] = r
			continue
		}
		index[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}
