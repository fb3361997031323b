package toolcall

import "strings"

// scanObject looks for the first balanced JSON object in s at or after from. It
// tracks string literals and escapes so braces inside string values do not
// affect depth.
//
// It returns the object's bounds when one closes. When an object opens but the
// input ends first, it returns ok=false with start set to the opening brace, so
// callers can resume from there on the next push. start is -1 when no brace
// exists at all.
func scanObject(s string, from int) (start, end int, ok bool) {
	rel := strings.IndexByte(s[from:], '{')
	if rel < 0 {
		return -1, -1, false
	}
	start = from + rel

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return start, -1, false
}

// ExtractBalancedJSON returns the first balanced {...} span in s.
func ExtractBalancedJSON(s string) (string, bool) {
	start, end, ok := scanObject(s, 0)
	if !ok {
		return "", false
	}
	return s[start:end], true
}
