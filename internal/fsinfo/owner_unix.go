//go:build unix

package fsinfo

import (
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Owner returns the user name owning path, or the numeric uid when it
// has no passwd entry.
func Owner(path string) (string, bool) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return "", false
	}
	uid := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(uid); err == nil {
		return u.Username, true
	}
	return uid, true
}
