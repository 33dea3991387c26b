package extract

import (
	"regexp"
	"strings"
)

// Transform post-processes an extracted value.
type Transform func(string) string

var annotationPattern = regexp.MustCompile(`[(（].*?[)）]`)

// Trim removes surrounding whitespace.
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// StripAnnotations drops bracketed annotations, ASCII or full-width.
func StripAnnotations(s string) string {
	return strings.TrimSpace(annotationPattern.ReplaceAllString(s, ""))
}

// NormalizeNewlines removes carriage returns.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r", "")
}

// StripBackslashes removes escaping left behind by inline scripts.
func StripBackslashes(s string) string {
	return strings.ReplaceAll(s, `\`, "")
}

// ResolveURL returns a Transform that makes image and link references
// absolute: "//x" becomes "https://x", "/x" becomes origin+"/x" and anything
// else is returned unchanged.
func ResolveURL(origin string) Transform {
	origin = strings.TrimRight(origin, "/")
	return func(s string) string {
		switch {
		case s == "":
			return s
		case strings.HasPrefix(s, "//"):
			return "https:" + s
		case strings.HasPrefix(s, "/"):
			return origin + s
		default:
			return s
		}
	}
}
