package onboard

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// enterRealtime pins the loop goroutine to its OS thread and locks the
// process's pages in memory so page faults cannot stall a cycle.
func enterRealtime() (func(), error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return nil, err
	}
	runtime.LockOSThread()
	return func() {
		runtime.UnlockOSThread()
		unix.Munlockall()
	}, nil
}
