//go:build windows

package probe

// procStartUnix uses gopsutil's create time on Windows.
func procStartUnix(pid int) int64 {
	p, err := newProc(pid)
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
