package indexer

import "strings"

// Preprocess normalizes ingested file text: strips a UTF-8 byte order mark, converts CRLF and CR
// line endings to LF, and trims surrounding whitespace. Inner whitespace is preserved because
// the result is the note's canonical content.
func Preprocess(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
