// Package archive moves ingested source files into a dated archive tree so
// the inbox only contains files that have not been processed yet.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Store archives files under root/<yyyy-mm-dd>/.
type Store struct {
	root string
	now  func() time.Time
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// Move relocates sourcePath into today's archive directory under its original
// filename and returns the archived path. An existing file with the same name
// is never overwritten; the new file gets a timestamp suffix instead.
func (s *Store) Move(sourcePath, originalFilename string) (string, error) {
	day := filepath.Join(s.root, s.now().Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	dest := filepath.Join(day, filepath.Base(originalFilename))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = dest[:len(dest)-len(ext)] + "_" + s.now().Format("150405") + ext
	}

	if err := os.Rename(sourcePath, dest); err != nil {
		// Rename fails across filesystems; copy and remove instead.
		if cErr := copyFile(sourcePath, dest); cErr != nil {
			return "", fmt.Errorf("archive %s: %w", sourcePath, cErr)
		}
		if rErr := os.Remove(sourcePath); rErr != nil {
			return "", fmt.Errorf("archive %s: remove source: %w", sourcePath, rErr)
		}
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
