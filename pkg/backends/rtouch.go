package backends

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RTouch updates the modification time of the directories containing
// path, from its parent up to (not including) root. The `skip` uppermost
// levels below root are left untouched.
//
// External garbage collectors scan caches by directory mtime.
func RTouch(root string, path string, skip int, now time.Time) error {
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, filepath.Dir(filepath.Clean(path)))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return err
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for depth := len(parts); skip < depth; depth-- {
		dir := filepath.Join(append([]string{root}, parts[:depth]...)...)
		if err := os.Chtimes(dir, now, now); err != nil {
			return err
		}
	}
	return nil
}
