package tokenizer

import "fmt"

// ============================================================================
// Token ID layout (shared across all tokenizers):
//
//   0:  [bos]  begin of sequence
//   1:  [eos]  end of sequence
//   2:  [pad]  padding
//   3:  [unk]  unknown token
//   4+: corpus tokens, ordered by descending frequency (ties: first seen)
//
// The four special IDs are fixed at construction and never re-assigned.
// ============================================================================

const (
	BosTk = "[bos]"
	EosTk = "[eos]"
	PadTk = "[pad]"
	UnkTk = "[unk]"

	BosID = 0
	EosID = 1
	PadID = 2
	UnkID = 3
)

// Tokenizer is the common interface for all tokenizer variants.
// Encode always brackets the result with BosID/EosID; Decode maps unknown
// ids back to the [unk] literal. Unknown tokens are substituted, never
// rejected.
type Tokenizer interface {
	// Name reports the CLI name of the variant ("whitespace" or "character").
	Name() string
	// Tokenize splits normalized text into atomic tokens.
	Tokenize(txt string) []string
	// Detokenize joins tokens back into one normalized text.
	Detokenize(tks []string) string
	// TrainVocab builds the vocabulary from a corpus of raw samples.
	TrainVocab(samples []string)
	// Encode maps text to ids, wrapped with [bos]/[eos].
	Encode(txt string) []int
	// Decode maps ids back to text.
	Decode(ids []int) string
	// Vocab exposes the (read-only) vocabulary.
	Vocab() *Vocabulary
	// IsUncased reports whether normalization lowercases.
	IsUncased() bool
}

// New constructs a tokenizer variant by CLI name with an empty vocabulary.
func New(name string, isUncased bool, maxVocab, minCount int) (Tokenizer, error) {
	switch name {
	case "whitespace":
		return NewWhitespace(isUncased, maxVocab, minCount), nil
	case "character":
		return NewCharacter(isUncased, maxVocab, minCount), nil
	}
	return nil, fmt.Errorf("tokenizer: unknown variant %q (want whitespace or character)", name)
}

// PadToMax appends [pad] ids until len(ids) == maxSeqLen, truncating first
// if the input is already longer. The result always has exactly maxSeqLen
// entries.
func PadToMax(maxSeqLen int, ids []int) []int {
	out := TruncToMax(maxSeqLen, ids)
	for len(out) < maxSeqLen {
		out = append(out, PadID)
	}
	return out
}

// TruncToMax keeps at most the first maxSeqLen ids.
func TruncToMax(maxSeqLen int, ids []int) []int {
	if len(ids) > maxSeqLen {
		ids = ids[:maxSeqLen]
	}
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}
