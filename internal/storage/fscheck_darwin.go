//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

// filesystemType returns the f_fstypename statfs reports, such as "apfs"
// or "smbfs".
func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	name := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return string(name), nil
}
