//go:build !linux

package fsinfo

import "time"

func birthTime(string) (time.Time, bool) {
	return time.Time{}, false
}
