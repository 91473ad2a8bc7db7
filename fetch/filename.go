package fetch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const fallbackName = "download"

var errEmptyName = errors.New("name must contain at least one non-space character")

// SafeName turns a user supplied name or a video title into a filename stem:
// path separators become underscores, runs of whitespace collapse to one
// space and a trailing file extension is dropped.
func SafeName(name string) (string, error) {
	cleaned := strings.NewReplacer(`\`, "_", "/", "_", "\x00", "").Replace(strings.TrimSpace(name))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "", errEmptyName
	}

	if ext := filepath.Ext(cleaned); isExtension(ext) && ext != cleaned {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, ext))
	}
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return fallbackName, nil
	}
	return cleaned, nil
}

// isExtension reports whether ext looks like a real file extension rather
// than the tail of a title such as "Mr. Bean".
func isExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 5 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// UniquePath returns dir/stem+ext, or the first of "stem (1)+ext",
// "stem (2)+ext", ... that does not exist yet.
func UniquePath(dir, stem, ext string) (string, error) {
	candidate := filepath.Join(dir, stem+ext)
	for counter := 1; ; counter++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, counter, ext))
	}
}

// expandHome resolves a leading "~" to the current user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
