// Package manifest parses the per-directory picture manifest.
//
// A manifest is a plain text file (named DEPLOY by default) living next to the
// pictures it describes. Each line carries zero or more directives:
//
//	IGNORE[<filename>]
//	SELECTED[<filename>]
//	LINK[<filename>]{<url>}
//	TITLE[<filename>]{<text>}
//
// and a line holding only the confirmation marker opts the directory into
// ingestion. Filenames are matched literally.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directive is one parsed manifest instruction. The concrete types are
// Ignore, Selected, Link, Title and ConfirmMarker.
type Directive interface {
	directive()
}

// Ignore excludes a file from ingestion.
type Ignore struct{ Name string }

// Selected marks a file as a selected picture.
type Selected struct{ Name string }

// Link attaches an article URL to a file.
type Link struct {
	Name string
	URL  string
}

// Title overrides the display title of a file.
type Title struct {
	Name string
	Text string
}

// ConfirmMarker opts the directory into ingestion.
type ConfirmMarker struct{}

func (Ignore) directive()        {}
func (Selected) directive()      {}
func (Link) directive()          {}
func (Title) directive()         {}
func (ConfirmMarker) directive() {}

// Problem is a line the tokenizer could not make sense of. Problems never
// abort parsing; the rest of the manifest still applies.
type Problem struct {
	Line   int
	Text   string
	Reason string
}

func (p Problem) String() string {
	return fmt.Sprintf("line %d: %s (%q)", p.Line, p.Reason, p.Text)
}

// Manifest is the parsed form of a manifest file.
type Manifest struct {
	Directives []Directive
	Problems   []Problem
}

// Attributes are the per-file values derived from a manifest.
type Attributes struct {
	Ignored  bool
	Selected bool
	Link     *string
	Title    string
}

// Read parses the manifest at path. A missing file yields an empty manifest.
func Read(path, marker string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(string(data), marker), nil
}

// Parse tokenizes manifest text. A line whose trimmed content equals marker
// yields ConfirmMarker; an empty marker never matches.
func Parse(text, marker string) *Manifest {
	m := &Manifest{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if marker != "" && line == marker {
			m.Directives = append(m.Directives, ConfirmMarker{})
			continue
		}

		directives, problem := tokenizeLine(line)
		m.Directives = append(m.Directives, directives...)
		if problem != "" {
			m.Problems = append(m.Problems, Problem{Line: i + 1, Text: line, Reason: problem})
		}
	}
	return m
}

// Confirmed reports whether the manifest carries the confirmation marker.
func (m *Manifest) Confirmed() bool {
	for _, d := range m.Directives {
		if _, ok := d.(ConfirmMarker); ok {
			return true
		}
	}
	return false
}

// Attributes resolves the directives that apply to filename. Boolean
// directives accumulate; for LINK and TITLE the first occurrence wins.
// Without a TITLE the title is the filename minus its extension.
func (m *Manifest) Attributes(filename string) Attributes {
	var attrs Attributes
	titleSet := false

	for _, d := range m.Directives {
		switch v := d.(type) {
		case Ignore:
			if v.Name == filename {
				attrs.Ignored = true
			}
		case Selected:
			if v.Name == filename {
				attrs.Selected = true
			}
		case Link:
			if v.Name == filename && attrs.Link == nil {
				url := v.URL
				attrs.Link = &url
			}
		case Title:
			if v.Name == filename && !titleSet {
				attrs.Title = v.Text
				titleSet = true
			}
		case ConfirmMarker:
		}
	}

	if !titleSet {
		attrs.Title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	return attrs
}

// tokenizeLine scans KEYWORD[name]{value} groups left to right. Text between
// groups is ignored. Scanning stops at the first malformed group, and the
// reason is returned alongside whatever parsed before it.
func tokenizeLine(line string) ([]Directive, string) {
	var out []Directive
	rest := line

	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			return out, ""
		}
		keyword := trailingKeyword(rest[:open])
		closeIdx := closingBracket(rest[open+1:])
		if closeIdx < 0 {
			return out, "unterminated '['"
		}
		name := rest[open+1 : open+1+closeIdx]
		rest = rest[open+1+closeIdx+1:]

		var value string
		hasValue := strings.HasPrefix(rest, "{")
		if hasValue {
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				return out, "unterminated '{'"
			}
			value = rest[1:end]
			rest = rest[end+1:]
		}

		if name == "" {
			return out, "empty filename"
		}

		switch keyword {
		case "IGNORE":
			out = append(out, Ignore{Name: name})
		case "SELECTED":
			out = append(out, Selected{Name: name})
		case "LINK":
			if !hasValue {
				return out, "LINK without {url}"
			}
			out = append(out, Link{Name: name, URL: value})
		case "TITLE":
			if !hasValue {
				return out, "TITLE without {text}"
			}
			out = append(out, Title{Name: name, Text: value})
		default:
			return out, fmt.Sprintf("unknown directive %q", keyword)
		}
	}
}

// closingBracket returns the index of the ']' that ends a name, or -1.
// Filenames may contain brackets themselves, so a ']' only closes the name
// when it is followed by '{', whitespace, another KEYWORD[ group or the end
// of the line. Without such a ']' the first one closes the name.
func closingBracket(s string) int {
	first := -1
	for i := 0; i < len(s); i++ {
		if s[i] != ']' {
			continue
		}
		if first < 0 {
			first = i
		}
		after := s[i+1:]
		if after == "" || after[0] == '{' || after[0] == ' ' || after[0] == '\t' || startsDirective(after) {
			return i
		}
	}
	return first
}

// startsDirective reports whether s begins with a known KEYWORD[.
func startsDirective(s string) bool {
	for _, kw := range keywords {
		if strings.HasPrefix(s, kw+"[") {
			return true
		}
	}
	return false
}

var keywords = []string{"IGNORE", "SELECTED", "LINK", "TITLE"}

// trailingKeyword returns the run of upper-case letters that ends s.
func trailingKeyword(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= 'A' && s[i-1] <= 'Z' {
		i--
	}
	return s[i:]
}
