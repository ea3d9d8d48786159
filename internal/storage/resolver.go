package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the longest sanitized name accepted, in bytes.
const MaxNameLength = 255

// TempPrefix marks in-flight upload files inside the root. Client names
// carrying it are rejected so they can never address a partial write.
const TempPrefix = ".filedrop-"

// illegalChars are refused on every platform so stored names stay portable.
const illegalChars = `<>:"|?*`

// Resolved is a sanitized name together with its confined absolute path.
// Entry is the directory entry for Name under the root; it differs from
// Path only when that entry is a symlink to another file in the root.
type Resolved struct {
	Name  string
	Path  string
	Entry string
}

// Resolver confines client-supplied names to a single storage root.
type Resolver struct {
	root string
}

// NewResolver binds a resolver to root. The root need not exist yet.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute storage root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve is a one-shot helper for NewResolver(root).Resolve(rawName).
func Resolve(root, rawName string) (Resolved, error) {
	r, err := NewResolver(root)
	if err != nil {
		return Resolved{}, err
	}
	return r.Resolve(rawName)
}

// Resolve sanitizes rawName and returns its location under the root.
// The result is re-verified after symlink resolution; any failure is an
// *InvalidNameError.
func (r *Resolver) Resolve(rawName string) (Resolved, error) {
	name, err := SanitizeName(rawName)
	if err != nil {
		return Resolved{}, err
	}

	realRoot, err := canonicalRoot(r.root)
	if err != nil {
		return Resolved{}, invalidName(rawName, ErrUnresolvable)
	}

	candidate := filepath.Join(realRoot, name)
	if !isWithinRoot(candidate, realRoot) {
		return Resolved{}, invalidName(rawName, ErrPathTraversal)
	}

	if _, err := os.Lstat(candidate); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Resolved{Name: name, Path: candidate, Entry: candidate}, nil
		}
		return Resolved{}, invalidName(rawName, ErrUnresolvable)
	}

	realPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return Resolved{}, invalidName(rawName, ErrUnresolvable)
	}
	if !isWithinRoot(realPath, realRoot) {
		return Resolved{}, invalidName(rawName, ErrSymlinkEscape)
	}
	return Resolved{Name: name, Path: realPath, Entry: candidate}, nil
}

// SanitizeName reduces rawName to a bare filename usable as a storage key.
// Directory components fold away; traversal segments, absolute paths and
// illegal characters are rejected.
func SanitizeName(rawName string) (string, error) {
	if strings.TrimSpace(rawName) == "" {
		return "", invalidName(rawName, ErrEmptyName)
	}
	if isAbsoluteName(rawName) {
		return "", invalidName(rawName, ErrAbsolutePath)
	}
	if !utf8.ValidString(rawName) {
		return "", invalidName(rawName, ErrIllegalCharacter)
	}
	for _, c := range rawName {
		if c < 0x20 || c == 0x7f || strings.ContainsRune(illegalChars, c) {
			return "", invalidName(rawName, ErrIllegalCharacter)
		}
	}

	segments := strings.FieldsFunc(rawName, func(c rune) bool { return c == '/' || c == '\\' })
	base := ""
	for _, seg := range segments {
		if seg == ".." {
			return "", invalidName(rawName, ErrPathTraversal)
		}
		if seg != "." {
			base = seg
		}
	}

	name := norm.NFC.String(base)
	name = strings.TrimRight(strings.TrimSpace(name), " .")
	switch {
	case name == "":
		return "", invalidName(rawName, ErrEmptyName)
	case len(name) > MaxNameLength:
		return "", invalidName(rawName, ErrNameTooLong)
	case strings.HasPrefix(name, TempPrefix):
		return "", invalidName(rawName, ErrReservedName)
	}
	return name, nil
}

func canonicalRoot(root string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err == nil {
		return realRoot, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return filepath.Abs(root)
	}
	return "", err
}

// isWithinRoot reports whether path is strictly below root.
func isWithinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isAbsoluteName(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || filepath.IsAbs(name) {
		return true
	}
	// Drive letters such as C: or C:\ on any host.
	return len(name) >= 2 && name[1] == ':' &&
		((name[0] >= 'a' && name[0] <= 'z') || (name[0] >= 'A' && name[0] <= 'Z'))
}
