package fsinfo

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Classifier maps a full path to a group name. The boolean is false when
// the path cannot be classified.
type Classifier func(path string) (string, bool)

// OwnerClassifier classifies by file owner. Owners only exist on the real
// OS filesystem; any other afero backend classifies nothing.
func OwnerClassifier(fs afero.Fs) Classifier {
	if _, ok := fs.(*afero.OsFs); !ok {
		return func(string) (string, bool) { return "", false }
	}
	return Owner
}

// MimeType returns the media type registered for the extension of path,
// without parameters.
func MimeType(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	return t, t != ""
}
