// Package media reads and purges the per-tag image cache shared with the
// upstream pipeline.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"unicode"
)

// Cache is a directory holding one subdirectory of images per tag.
type Cache struct {
	Dir string
}

// TagDir returns the directory holding tag's images.
func (c Cache) TagDir(tag int64) string {
	return filepath.Join(c.Dir, strconv.FormatInt(tag, 10))
}

// List returns tag's image files as absolute paths in natural name order
// (2.jpg before 10.jpg). A missing directory is an empty set.
func (c Cache) List(tag int64) ([]string, error) {
	dir := c.TagDir(tag)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media: list %d: %w", tag, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("media: list %d: %w", tag, err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, filepath.Join(abs, n))
	}
	return out, nil
}

// Remove deletes tag's directory. A missing directory is not an error.
func (c Cache) Remove(tag int64) error {
	if err := os.RemoveAll(c.TagDir(tag)); err != nil {
		return fmt.Errorf("media: remove %d: %w", tag, err)
	}
	return nil
}

// naturalLess compares names treating digit runs as numbers.
func naturalLess(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na, _ := strconv.ParseUint(string(ar[si:i]), 10, 64)
			nb, _ := strconv.ParseUint(string(br[sj:j]), 10, 64)
			if na != nb {
				return na < nb
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}
