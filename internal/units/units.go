// Package units renders sizes and durations the way the supervisor reports them.
package units

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Size formats a byte count with IEC units, e.g. "9.0 GiB".
func Size(b uint64) string { return humanize.IBytes(b) }

// Duration formats d as H:MM:SS truncated to whole seconds. Negative values render as 0:00:00.
func Duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
