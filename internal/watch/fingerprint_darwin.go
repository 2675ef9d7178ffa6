package watch

import (
	"os"
	"syscall"
)

// changeStamp returns the inode and change time (ns) of info.
func changeStamp(info os.FileInfo) (uint64, int64, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return uint64(st.Ino), int64(st.Ctimespec.Sec)*1e9 + int64(st.Ctimespec.Nsec), true
}
