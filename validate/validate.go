// Package validate holds the request-side checks that run before any
// network call: SSRF host allow-listing, display-reference extraction and
// output filename sanitization. Everything here is a pure function.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrBadURL means the URL could not be parsed at all.
	ErrBadURL = errors.New("url could not be parsed")
	// ErrForbiddenHost means the URL's host is not on the allow-list.
	ErrForbiddenHost = errors.New("host is not allowed")
	// ErrBadReference means the reference carries no usable jsonUrl.
	ErrBadReference = errors.New("reference has no jsonUrl parameter and is not a .json link")
)

// Host checks rawURL's hostname against the allow-list. An unparseable URL,
// an empty hostname and a host outside the list are all rejected.
func Host(rawURL string, allowed map[string]struct{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadURL, rawURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: %q has no hostname", ErrForbiddenHost, rawURL)
	}
	if _, ok := allowed[host]; !ok {
		return fmt.Errorf("%w: %q", ErrForbiddenHost, host)
	}
	return nil
}

// ExtractJSONURL recovers the document URL from a reference. A direct
// .json link passes through unchanged; a viewer link must carry the
// document URL in its jsonUrl query parameter (percent-decoded here).
func ExtractJSONURL(reference string) (string, error) {
	if !strings.Contains(reference, "jsonUrl=") &&
		strings.HasSuffix(strings.ToLower(reference), ".json") {
		return reference, nil
	}

	u, err := url.Parse(reference)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadReference, err)
	}

	jsonURL := u.Query().Get("jsonUrl")
	if jsonURL == "" {
		return "", ErrBadReference
	}
	return jsonURL, nil
}

// Keeps word characters, dash, dot, parens, space and the CJK unified block.
var unsafeFilenameChars = regexp.MustCompile(`[^\w\-.() \x{4e00}-\x{9fff}]+`)

// SafeFilename turns a user-supplied name into a safe attachment filename:
// no path separators, always a .pdf suffix, at most 120 runes.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" {
		return "output.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	if runes := []rune(name); len(runes) > 120 {
		name = string(runes[:120])
	}
	return name
}
