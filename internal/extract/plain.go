package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// sniffLen is how much of a file is inspected when deciding if it is text.
const sniffLen = 8000

// extractPlain returns content as a string. Invalid UTF-8 is replaced with U+FFFD.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd"), nil
	}
	return string(content), nil
}

func looksBinary(content []byte) bool {
	if len(content) > sniffLen {
		content = content[:sniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}
