package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// IgnoreList holds URL fragments that must never be mirrored, such as hosts
// that ask not to be rehosted. Matching is a case insensitive substring test.
type IgnoreList struct {
	terms []ignoreTerm
}

type ignoreTerm struct {
	raw   string // As written, reported back to the caller
	lower string
}

// NewIgnoreList builds an ignore list, skipping blank terms
func NewIgnoreList(terms ...string) *IgnoreList {
	list := &IgnoreList{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		list.terms = append(list.terms, ignoreTerm{raw: term, lower: strings.ToLower(term)})
	}
	return list
}

// LoadIgnoreList reads one term per line from ignore.txt. Lines starting with
// # are comments. A missing file gives an empty list.
func LoadIgnoreList(path string) (*IgnoreList, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewIgnoreList(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore list: %w", err)
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}

	return NewIgnoreList(terms...), nil
}

// IsIgnored reports whether the URL contains a term of the list, and which one.
// A nil list ignores nothing.
func (l *IgnoreList) IsIgnored(rawURL string) (bool, string) {
	if l == nil {
		return false, ""
	}
	lower := strings.ToLower(rawURL)
	for _, term := range l.terms {
		if strings.Contains(lower, term.lower) {
			return true, term.raw
		}
	}
	return false, ""
}

// Len returns the number of terms
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.terms)
}
