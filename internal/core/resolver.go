package core

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxSuggestions caps the "did you mean" list of a NotFoundError.
const DefaultMaxSuggestions = 12

// errFound stops the recursive walk at the first match.
var errFound = errors.New("found")

// Resolver maps script references to absolute paths.
//
// Search order:
//  1. the reference as a path (absolute, or relative to Root)
//  2. each of CandidateDirs, in order
//  3. a recursive search under Root for a file with the same base name,
//     visiting directories in lexical order and skipping ExcludeDirs
//
// Resolution is repeated on every call; nothing is cached across runs.
type Resolver struct {
	// Root is the absolute project root.
	Root string

	// CandidateDirs are absolute directories tried in order.
	CandidateDirs []string

	// ExcludeDirs are directory base names never descended into.
	ExcludeDirs []string

	// MaxSuggestions caps suggestions; zero means DefaultMaxSuggestions.
	MaxSuggestions int
}

// Resolve returns the absolute path of name, or a NotFoundError carrying
// suggestions when nothing matches.
func (r *Resolver) Resolve(name string) (string, error) {
	ref := strings.TrimSpace(name)
	if ref == "" {
		return "", &NotFoundError{Name: name}
	}
	native := filepath.FromSlash(ref)

	direct := native
	if !filepath.IsAbs(direct) {
		direct = filepath.Join(r.Root, direct)
	}
	if isFile(direct) {
		return filepath.Clean(direct), nil
	}

	if !filepath.IsAbs(native) {
		for _, dir := range r.CandidateDirs {
			candidate := filepath.Join(dir, native)
			if isFile(candidate) {
				return filepath.Clean(candidate), nil
			}
		}
	}

	if found := r.search(filepath.Base(native)); found != "" {
		return found, nil
	}

	return "", &NotFoundError{Name: ref, Suggestions: r.Suggest(ref)}
}

// Suggest lists project files whose base name contains the stem of name
// (case-insensitive) and that share its extension. Paths are relative to
// Root, slash-separated and sorted.
//
// Matching on the stem rather than the full base name means "etl.py" also
// suggests renamed variants such as "etl_v2.py" or "etl_old.py", which a
// full-name substring match would never find.
func (r *Resolver) Suggest(name string) []string {
	base := filepath.Base(filepath.FromSlash(strings.TrimSpace(name)))
	ext := strings.ToLower(filepath.Ext(base))
	needle := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if needle == "" || needle == "." {
		return nil
	}

	var hits []string
	_ = filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != r.Root && r.excluded(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		lower := strings.ToLower(d.Name())
		if ext != "" && strings.ToLower(filepath.Ext(lower)) != ext {
			return nil
		}
		if !strings.Contains(lower, needle) {
			return nil
		}
		if rel, err := filepath.Rel(r.Root, path); err == nil {
			hits = append(hits, filepath.ToSlash(rel))
		}
		return nil
	})

	sort.Strings(hits)
	limit := r.MaxSuggestions
	if limit <= 0 {
		limit = DefaultMaxSuggestions
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (r *Resolver) search(base string) string {
	if base == "" || base == "." || base == string(filepath.Separator) {
		return ""
	}
	var found string
	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != r.Root && r.excluded(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() == base && d.Type().IsRegular() {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return ""
	}
	return found
}

func (r *Resolver) excluded(dirName string) bool {
	for _, ex := range r.ExcludeDirs {
		if dirName == ex {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
