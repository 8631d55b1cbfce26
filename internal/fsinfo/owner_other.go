//go:build !unix

package fsinfo

// Owner is not available on this platform.
func Owner(string) (string, bool) {
	return "", false
}
