package download

import "strings"

// parseContentDispositionFilename implements spec §4.3.4: scan for
// "filename=", take the character immediately following "=" as the
// delimiter (typically '"'), and read up to the next unescaped
// occurrence of that delimiter, treating '\' as an escape.
func parseContentDispositionFilename(header string) (string, bool) {
	idx := strings.Index(strings.ToLower(header), "filename=")
	if idx < 0 {
		return "", false
	}
	rest := header[idx+len("filename="):]
	if rest == "" {
		return "", false
	}
	delim := rest[0]
	body := rest[1:]

	var b strings.Builder
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == delim {
			return b.String(), true
		}
		b.WriteByte(c)
	}
	// unterminated: per spec, take up to end of string.
	return b.String(), true
}
