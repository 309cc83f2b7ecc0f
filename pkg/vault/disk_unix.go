//go:build !windows

package vault

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// diskAvailable returns the bytes available to this user on the
// filesystem holding path. Falls back to the parent when the vault
// directory does not exist yet.
func diskAvailable(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		if err := syscall.Statfs(filepath.Dir(path), &stat); err != nil {
			return 0, fmt.Errorf("vault: failed to get disk stats: %w", err)
		}
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
