package tokenizer

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var wsRun = regexp.MustCompile(`\s+`)

// base carries the state shared by all variants: the vocabulary and the
// normalization settings. Variants differ only in how text splits into
// atomic tokens.
type base struct {
	isUncased bool
	maxVocab  int
	minCount  int
	vocab     *Vocabulary
}

func newBase(isUncased bool, maxVocab, minCount int) base {
	return base{
		isUncased: isUncased,
		maxVocab:  maxVocab,
		minCount:  minCount,
		vocab:     NewVocabulary(),
	}
}

// normalize applies NFKC, collapses whitespace runs to single spaces,
// strips leading/trailing whitespace and optionally lowercases.
func (b *base) normalize(txt string) string {
	txt = norm.NFKC.String(txt)
	txt = strings.TrimSpace(wsRun.ReplaceAllString(txt, " "))
	if b.isUncased {
		txt = strings.ToLower(txt)
	}
	return txt
}

func (b *base) Vocab() *Vocabulary { return b.vocab }
func (b *base) IsUncased() bool    { return b.isUncased }

// Whitespace tokenizes text into whitespace-separated tokens. No
// whitespace survives tokenization, so decode(encode(x)) collapses
// whitespace variation but preserves token order and content.
type Whitespace struct {
	base
}

// NewWhitespace creates a whitespace tokenizer with an empty vocabulary.
func NewWhitespace(isUncased bool, maxVocab, minCount int) *Whitespace {
	return &Whitespace{base: newBase(isUncased, maxVocab, minCount)}
}

func (t *Whitespace) Name() string { return "whitespace" }

// Tokenize normalizes then splits on whitespace runs. An empty (or
// all-whitespace) input yields no tokens.
func (t *Whitespace) Tokenize(txt string) []string {
	txt = t.normalize(txt)
	if txt == "" {
		return nil
	}
	return strings.Split(txt, " ")
}

// Detokenize joins tokens with single spaces and re-normalizes.
func (t *Whitespace) Detokenize(tks []string) string {
	return t.normalize(strings.Join(tks, " "))
}

// TrainVocab builds the vocabulary from raw corpus samples.
func (t *Whitespace) TrainVocab(samples []string) {
	t.vocab = BuildVocab(tokenizeAll(t, samples), t.maxVocab, t.minCount)
}

// Encode maps text to ids wrapped with [bos]/[eos]. Out-of-vocabulary
// tokens become [unk].
func (t *Whitespace) Encode(txt string) []int { return encode(t, txt) }

// Decode is the inverse of Encode modulo unknown substitution: specials
// are dropped, unknown ids decode to the [unk] literal.
func (t *Whitespace) Decode(ids []int) string { return decode(t, ids) }

// ---- shared encode/decode paths ----

func tokenizeAll(t Tokenizer, samples []string) [][]string {
	corpus := make([][]string, 0, len(samples))
	for _, s := range samples {
		corpus = append(corpus, t.Tokenize(s))
	}
	return corpus
}

func encode(t Tokenizer, txt string) []int {
	tks := t.Tokenize(txt)
	ids := make([]int, 0, len(tks)+2)
	ids = append(ids, BosID)
	for _, tk := range tks {
		ids = append(ids, t.Vocab().ID(tk))
	}
	return append(ids, EosID)
}

func decode(t Tokenizer, ids []int) string {
	tks := make([]string, 0, len(ids))
	for _, id := range ids {
		switch id {
		case BosID, EosID, PadID:
			continue
		}
		tks = append(tks, t.Vocab().Token(id))
	}
	return t.Detokenize(tks)
}
