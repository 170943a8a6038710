package utils

import "strings"

// IsSafeFilename reports whether name can be joined onto a directory without
// leaving it: not empty, not a dot entry, no path separators or NUL bytes.
func IsSafeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
