package command

import (
	"iter"
	"strings"

	"mvdan.cc/xurls/v2"
)

// relaxed finds links with or without a scheme. It handles trailing
// punctuation and only keeps brackets that are balanced inside the link.
var relaxed = xurls.Relaxed()

// URLs yields the link-shaped substrings of text from left to right: http(s)
// links, www. links and bare domains followed by a path.
// The sequence is stateless and may be ranged over any number of times.
func URLs(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, loc := range relaxed.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if !isLink(match) {
				continue
			}
			if !yield(match) {
				return
			}
		}
	}
}

// ExtractURLs collects URLs(text).
func ExtractURLs(text string) []string {
	var out []string
	for u := range URLs(text) {
		out = append(out, u)
	}
	return out
}

// FirstURL returns the leftmost link in text.
func FirstURL(text string) (string, bool) {
	for u := range URLs(text) {
		return u, true
	}
	return "", false
}

// isLink filters relaxed matches down to what the downloader accepts.
// Other schemes (mailto:, magnet:), e-mail addresses and bare domains
// without a path are skipped.
func isLink(s string) bool {
	l := strings.ToLower(s)
	switch {
	case strings.HasPrefix(l, "http://"), strings.HasPrefix(l, "https://"):
		return true
	case strings.HasPrefix(l, "www."):
		return true
	}
	host, _, hasPath := strings.Cut(l, "/")
	if !hasPath || strings.ContainsAny(host, "@:") {
		return false
	}
	return true
}
