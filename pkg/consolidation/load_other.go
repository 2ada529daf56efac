//go:build !linux

package consolidation

// readLoadAverage has no portable implementation outside Linux's
// sysinfo(2). ok=false here means "unreadable", which IsIdle treats as
// "skip the CPU half of the check" — never as "not idle".
func readLoadAverage() (float64, bool) {
	return 0, false
}
