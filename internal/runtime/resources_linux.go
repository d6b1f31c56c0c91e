//go:build linux

package runtime

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ApplyRlimits raises RLIMIT_NOFILE to noFile when provided (>0). Children
// inherit the limit, so it is applied just before spawning.
func ApplyRlimits(noFile uint64) error {
	if noFile == 0 {
		return nil
	}
	var cur unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &cur); err == nil && cur.Cur >= noFile {
		return nil
	}
	lim := &unix.Rlimit{Cur: noFile, Max: noFile}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, lim); err != nil {
		return fmt.Errorf("setrlimit NOFILE: %w", err)
	}
	return nil
}
