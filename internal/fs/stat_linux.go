//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// createdTime approximates a creation stamp. Birth time is not available on
// most Unix filesystems, so the earlier of ctime and mtime is used.
func createdTime(info fs.FileInfo) time.Time {
	mtime := info.ModTime().UTC()
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtime
	}
	ctime := time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)).UTC()
	if ctime.Before(mtime) {
		return ctime
	}
	return mtime
}
