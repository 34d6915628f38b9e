package deps

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"meetingflow/internal/services"
)

// spaceReserve is kept free on top of what a caller asks for.
const spaceReserve int64 = 64 << 20

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem holding dir.
func FreeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckFreeSpace fails when dir cannot hold need bytes plus a fixed reserve.
func CheckFreeSpace(dir string, need int64) error {
	free, err := FreeBytes(dir)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "segment", "space check", "cannot read free space", err)
	}
	want := need + spaceReserve
	if want < 0 || free < uint64(want) {
		return services.Wrap(services.ErrUnavailable, "segment", "space check",
			fmt.Sprintf("%s free in %s, need %s", humanize.IBytes(free), dir, humanize.IBytes(uint64(max(want, 0)))), nil)
	}
	return nil
}

// CheckDisk reports free space for a named directory as a Status.
func CheckDisk(name, dir string, minimum int64) Status {
	status := Status{Name: name, Command: dir, Description: "Free disk space"}
	free, err := FreeBytes(dir)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Detail = humanize.IBytes(free) + " free"
	status.Available = minimum <= 0 || free >= uint64(minimum)
	if !status.Available {
		status.Detail = fmt.Sprintf("%s free, need %s", humanize.IBytes(free), humanize.IBytes(uint64(minimum)))
	}
	return status
}
