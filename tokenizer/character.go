package tokenizer

import "strings"

// Character tokenizes text into single code points. It shares the
// whitespace variant's normalization; only the atomic unit differs.
type Character struct {
	base
}

// NewCharacter creates a character tokenizer with an empty vocabulary.
func NewCharacter(isUncased bool, maxVocab, minCount int) *Character {
	return &Character{base: newBase(isUncased, maxVocab, minCount)}
}

func (t *Character) Name() string { return "character" }

// Tokenize normalizes then splits into individual code points.
func (t *Character) Tokenize(txt string) []string {
	txt = t.normalize(txt)
	if txt == "" {
		return nil
	}
	tks := make([]string, 0, len(txt))
	for _, r := range txt {
		tks = append(tks, string(r))
	}
	return tks
}

// Detokenize concatenates code points and re-normalizes.
func (t *Character) Detokenize(tks []string) string {
	return t.normalize(strings.Join(tks, ""))
}

// TrainVocab builds the vocabulary from raw corpus samples.
func (t *Character) TrainVocab(samples []string) {
	t.vocab = BuildVocab(tokenizeAll(t, samples), t.maxVocab, t.minCount)
}

func (t *Character) Encode(txt string) []int { return encode(t, txt) }
func (t *Character) Decode(ids []int) string { return decode(t, ids) }
