//go:build !linux && !darwin

package watch

import "os"

func changeStamp(os.FileInfo) (uint64, int64, bool) {
	return 0, 0, false
}
