//go:build linux

package consolidation

import "golang.org/x/sys/unix"

// readLoadAverage reads the 1-minute load average via sysinfo(2). It
// returns ok=false only if the syscall itself fails — an unreadable load
// average should never make the idleness check look failed-idle.
func readLoadAverage() (float64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	// Loads[0] is the 1-minute load average scaled by 1<<SI_LOAD_SHIFT.
	const siLoadShift = 16
	return float64(info.Loads[0]) / float64(1<<siLoadShift), true
}
