// Package header parses the metadata block at the top of a package's main file.
//
// A main file declares itself with a marker line such as
//
//	/*
//	 * Plugin Name: Acme Tool
//	 * Version: 2.0.1
//	 */
//
// Only the first MaxHeaderBytes of the file are considered.
package header

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"
)

// MaxHeaderBytes is how much of a file is scanned for header fields.
const MaxHeaderBytes = 8 * 1024

// DefaultMarker is the field name that identifies a main package file.
const DefaultMarker = "Plugin Name:"

var (
	ErrNoMarker  = errors.New("header marker not found")
	ErrNoVersion = errors.New("header has no version field")
)

// Header holds the fields read from a main file
type Header struct {
	Name        string // Plugin Name
	URI         string // Plugin URI
	Version     string // Version
	Description string // Description
	Author      string // Author
	RequiresWP  string // Requires at least
	RequiresPHP string // Requires PHP
	TextDomain  string // Text Domain
}

// fieldNames maps header keys to setters
var fieldNames = map[string]func(h *Header, v string){
	"Plugin Name":       func(h *Header, v string) { h.Name = v },
	"Plugin URI":        func(h *Header, v string) { h.URI = v },
	"Version":           func(h *Header, v string) { h.Version = v },
	"Description":       func(h *Header, v string) { h.Description = v },
	"Author":            func(h *Header, v string) { h.Author = v },
	"Requires at least": func(h *Header, v string) { h.RequiresWP = v },
	"Requires PHP":      func(h *Header, v string) { h.RequiresPHP = v },
	"Text Domain":       func(h *Header, v string) { h.TextDomain = v },
}

// fieldRegexes are built once; keys may be preceded by comment characters.
var fieldRegexes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(fieldNames))
	for name := range fieldNames {
		res[name] = regexp.MustCompile(`(?mi)^[ \t/*#@]*` + regexp.QuoteMeta(name) + `:(.*)$`)
	}
	return res
}()

// commentCloser strips a trailing "*/" or "?>" left on the value line
var commentCloser = regexp.MustCompile(`\s*(?:\*/|\?>).*$`)

// HasMarker reports whether content carries the marker within the header window.
func HasMarker(content []byte, marker string) bool {
	if marker == "" {
		marker = DefaultMarker
	}
	if len(content) > MaxHeaderBytes {
		content = content[:MaxHeaderBytes]
	}
	return bytes.Contains(content, []byte(marker))
}

// ReadHead returns at most MaxHeaderBytes from r.
func ReadHead(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, MaxHeaderBytes))
}

// Parse reads the header fields from r.
// It does not require the marker; use ParseMain for that.
func Parse(r io.Reader) (*Header, error) {
	head, err := ReadHead(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(head), nil
}

// ParseMain reads r and requires both the marker and a version field.
func ParseMain(r io.Reader, marker string) (*Header, error) {
	head, err := ReadHead(r)
	if err != nil {
		return nil, err
	}
	if !HasMarker(head, marker) {
		return nil, ErrNoMarker
	}
	h := parseBytes(head)
	if h.Version == "" {
		return h, ErrNoVersion
	}
	return h, nil
}

func parseBytes(head []byte) *Header {
	// Normalize CR line endings the way the host does
	text := strings.ReplaceAll(string(head), "\r", "\n")

	h := &Header{}
	for name, re := range fieldRegexes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := commentCloser.ReplaceAllString(m[1], "")
		fieldNames[name](h, strings.TrimSpace(value))
	}
	return h
}
