package textproc

import (
	"regexp"
	"strings"
)

var (
	// tarMetadataPattern matches tar header residue such as
	// "0454060-cd29b7.txt    0000644 ..." left behind by raw archive dumps.
	tarMetadataPattern = regexp.MustCompile(`^[0-9a-f\-/]+\.txt\s+\d+`)
	ustarMarker        = "ustar"
)

// Clean returns text with tar metadata lines removed, every line trimmed and
// runs of blank lines collapsed to one. The result is trimmed and always ends
// with a single newline.
func Clean(text string) string {
	lines := SplitLines(text)
	kept := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if tarMetadataPattern.MatchString(line) || strings.Contains(line, ustarMarker) {
			continue
		}
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
			kept = append(kept, "")
			continue
		}
		blank = 0
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")) + "\n"
}

// SplitLines splits text on every line boundary: \n, \r, \r\n, vertical tab,
// form feed, the file/group/record separators, NEL and the Unicode line and
// paragraph separators. A trailing boundary does not produce an empty line.
func SplitLines(text string) []string {
	var lines []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isLineBoundary(runes[i]) {
			continue
		}
		lines = append(lines, string(runes[start:i]))
		if runes[i] == '\r' && i+1 < len(runes) && runes[i+1] == '\n' {
			i++
		}
		start = i + 1
	}
	if start < len(runes) {
		lines = append(lines, string(runes[start:]))
	}
	return lines
}

func isLineBoundary(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}
