package nodeindex

import (
	"strings"
)

// SplitPath breaks a path into its non-empty segments. Both sep and '/'
// are treated as separators so slash-form paths resolve on every platform.
func SplitPath(path string, sep rune) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == sep || r == '/'
	})
}

// splitParent returns the segments of the parent path and the final name.
// The name is empty when the path has no segments.
func splitParent(path string, sep rune) ([]string, string) {
	parts := SplitPath(path, sep)
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string, sep rune) string {
	if parentPath == "" {
		return name
	}
	if strings.HasSuffix(parentPath, string(sep)) {
		return parentPath + name
	}
	return parentPath + string(sep) + name
}

// isVolume reports whether a top-level segment names a volume ("C:"),
// which is never preceded by a separator in a full path.
func isVolume(segment string) bool {
	return strings.HasSuffix(segment, ":")
}
