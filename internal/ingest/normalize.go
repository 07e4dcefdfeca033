package ingest

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the registry key for raw. Separators are unified to '/',
// redundant segments are collapsed below the volume (drive letter or UNC
// share), Windows drive letters are upper-cased, and the result is NFC so
// precomposed and decomposed spellings of the same name collide. Blank input
// yields "".
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	vol, rest := splitVolume(strings.ReplaceAll(s, `\`, "/"))
	if rest != "" {
		rest = path.Clean(rest)
	}
	if rest == "." {
		rest = ""
	}
	if vol == "" && rest == "" {
		return ""
	}
	return norm.NFC.String(vol + rest)
}

// splitVolume separates a leading "X:" drive or "//server/share" prefix so
// ".." segments cannot climb above it. The drive letter is upper-cased.
func splitVolume(s string) (vol, rest string) {
	if len(s) >= 2 && s[1] == ':' && isASCIILetter(s[0]) {
		return strings.ToUpper(s[:1]) + ":", s[2:]
	}
	if !strings.HasPrefix(s, "//") || strings.HasPrefix(s, "///") {
		return "", s
	}
	for strings.Contains(s[2:], "//") {
		s = s[:2] + strings.ReplaceAll(s[2:], "//", "/")
	}
	end := 2
	for range 2 {
		next := strings.IndexByte(s[end:], '/')
		if next < 0 {
			return s, ""
		}
		if end+next+1 >= len(s) {
			return s[:end+next], ""
		}
		end += next + 1
	}
	return s[:end-1], s[end-1:]
}

// DisplayName returns the final path segment of raw, splitting on either
// separator. When no segment exists the raw path is returned unchanged.
func DisplayName(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), `/\`)
	if idx := strings.LastIndexAny(trimmed, `/\`); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return raw
	}
	return norm.NFC.String(trimmed)
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
