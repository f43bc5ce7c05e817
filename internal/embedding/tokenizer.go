package embedding

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"unicode"
)

// BERT uncased special token ids, used when no vocabulary is loaded.
const (
	padTokenID int64 = 0
	clsTokenID int64 = 101
	sepTokenID int64 = 102

	// hashVocabSize bounds the ids produced by HashTokenizer; ids below 1000 are reserved.
	hashVocabSize = 30000
	// maxWordRunes is the longest word WordPiece will split; longer words become [UNK].
	maxWordRunes = 100
)

// Encoding is a fixed-length model input. Positions after the last real token are padding
// with attention mask 0.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Tokens returns the number of non-padding positions.
func (e Encoding) Tokens() int {
	n := 0
	for _, m := range e.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Tokenizer encodes text into exactly maxTokens positions: [CLS] pieces... [SEP] [PAD]...
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

// newEncoding frames pieces with cls/sep and pads to maxTokens, truncating pieces to fit.
func newEncoding(pieces []int64, maxTokens int, cls, sep, pad int64) Encoding {
	if maxTokens < 2 {
		maxTokens = 2
	}
	enc := Encoding{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	if room := maxTokens - 2; len(pieces) > room {
		pieces = pieces[:room]
	}
	enc.InputIDs[0] = cls
	copy(enc.InputIDs[1:], pieces)
	enc.InputIDs[len(pieces)+1] = sep
	for i := range enc.InputIDs {
		if i <= len(pieces)+1 {
			enc.AttentionMask[i] = 1
			continue
		}
		enc.InputIDs[i] = pad
	}
	return enc
}

// HashTokenizer maps each lower-cased word to a hashed id. It needs no vocabulary file and is
// only useful for smoke-testing a model; real models need WordPieceTokenizer.
type HashTokenizer struct{}

func (HashTokenizer) Encode(text string, maxTokens int) Encoding {
	words := basicTokens(text, true)
	pieces := make([]int64, len(words))
	for i, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		pieces[i] = 1000 + int64(h.Sum32()%(hashVocabSize-1000))
	}
	return newEncoding(pieces, maxTokens, clsTokenID, sepTokenID, padTokenID)
}

// WordPieceTokenizer implements BERT's greedy longest-match-first subword split over a vocabulary.
type WordPieceTokenizer struct {
	vocab     map[string]int64
	lowercase bool
	cls       int64
	sep       int64
	pad       int64
	unk       int64
}

// LoadWordPieceVocab reads a vocab.txt file (one token per line, id = line number).
func LoadWordPieceVocab(path string, lowercase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return NewWordPieceTokenizer(tokens, lowercase)
}

// NewWordPieceTokenizer builds a tokenizer from tokens ordered by id.
// The vocabulary must contain [CLS], [SEP] and [UNK]; [PAD] defaults to id 0.
func NewWordPieceTokenizer(tokens []string, lowercase bool) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: make(map[string]int64, len(tokens)), lowercase: lowercase}
	for i, tok := range tokens {
		if _, dup := t.vocab[tok]; !dup {
			t.vocab[tok] = int64(i)
		}
	}
	for name, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[UNK]": &t.unk} {
		id, ok := t.vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", name)
		}
		*dst = id
	}
	t.pad = t.vocab["[PAD]"]
	return t, nil
}

func (t *WordPieceTokenizer) Encode(text string, maxTokens int) Encoding {
	var pieces []int64
	for _, word := range basicTokens(text, t.lowercase) {
		pieces = append(pieces, t.wordPieces(word)...)
		if len(pieces) >= maxTokens {
			break
		}
	}
	return newEncoding(pieces, maxTokens, t.cls, t.sep, t.pad)
}

func (t *WordPieceTokenizer) wordPieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.unk}
	}
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64 = -1
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := t.vocab[sub]; ok {
				id = v
				break
			}
		}
		if id < 0 {
			return []int64{t.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicTokens splits on whitespace and isolates punctuation and symbols as single-rune tokens.
func basicTokens(text string, lowercase bool) []string {
	if lowercase {
		text = strings.ToLower(text)
	}
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
