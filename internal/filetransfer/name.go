package filetransfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenChars are replaced with '_' during sanitization, per §4.5.
const forbiddenChars = `/\:*?"<>|`

// SanitizeName strips any directory components and replaces forbidden
// characters, falling back to "unnamed" if the result is empty.
func SanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		if strings.ContainsRune(forbiddenChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}

	sanitized := b.String()
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}

// UniquePath resolves a non-existing path under dir for the given sanitized
// name, trying "name", then "Stem (1).ext", "Stem (2).ext", ... per §4.5.
func UniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", fmt.Errorf("stat %s: %w", candidate, err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
}
