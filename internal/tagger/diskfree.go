package tagger

import "golang.org/x/sys/unix"

// diskFree returns the bytes available to unprivileged users on the
// volume containing dir.
func diskFree(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}
