package tokenizer

import "sort"

// Vocabulary is a bidirectional token <-> id mapping. IDs are contiguous
// from 0 with the four specials always occupying 0..3. Built once by
// BuildVocab and treated as read-only afterwards.
type Vocabulary struct {
	tk2id map[string]int
	id2tk []string
}

// NewVocabulary returns a vocabulary holding only the special tokens.
func NewVocabulary() *Vocabulary {
	v := &Vocabulary{tk2id: make(map[string]int, 4)}
	for _, tk := range []string{BosTk, EosTk, PadTk, UnkTk} {
		v.tk2id[tk] = len(v.id2tk)
		v.id2tk = append(v.id2tk, tk)
	}
	return v
}

// BuildVocab counts token frequencies over a corpus pre-split into token
// lists, sorts candidates by descending frequency (ties broken by
// first-seen order) and keeps tokens with frequency >= minCount until
// maxVocab entries exist. maxVocab == -1 means unlimited.
func BuildVocab(corpus [][]string, maxVocab, minCount int) *Vocabulary {
	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0
	for _, tks := range corpus {
		for _, tk := range tks {
			if _, ok := freq[tk]; !ok {
				firstSeen[tk] = order
				order++
			}
			freq[tk]++
		}
	}

	cands := make([]string, 0, len(freq))
	for tk := range freq {
		cands = append(cands, tk)
	}
	sort.Slice(cands, func(i, j int) bool {
		if freq[cands[i]] != freq[cands[j]] {
			return freq[cands[i]] > freq[cands[j]]
		}
		return firstSeen[cands[i]] < firstSeen[cands[j]]
	})

	v := NewVocabulary()
	for _, tk := range cands {
		if maxVocab != -1 && v.Size() >= maxVocab {
			break
		}
		if freq[tk] < minCount {
			continue
		}
		if _, ok := v.tk2id[tk]; ok {
			// Specials can appear literally in the corpus; they keep
			// their reserved ids.
			continue
		}
		v.tk2id[tk] = len(v.id2tk)
		v.id2tk = append(v.id2tk, tk)
	}
	return v
}

// vocabFromTokens rebuilds a vocabulary from an id-ordered token list
// (persistence path). The first four entries must be the specials.
func vocabFromTokens(tokens []string) *Vocabulary {
	v := &Vocabulary{tk2id: make(map[string]int, len(tokens))}
	for _, tk := range tokens {
		if _, ok := v.tk2id[tk]; ok {
			continue
		}
		v.tk2id[tk] = len(v.id2tk)
		v.id2tk = append(v.id2tk, tk)
	}
	return v
}

// Size returns the number of entries, specials included.
func (v *Vocabulary) Size() int { return len(v.id2tk) }

// ID maps a token to its id, substituting UnkID for unseen tokens.
func (v *Vocabulary) ID(tk string) int {
	if id, ok := v.tk2id[tk]; ok {
		return id
	}
	return UnkID
}

// Token maps an id back to its token, substituting the [unk] literal for
// out-of-range ids.
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.id2tk) {
		return UnkTk
	}
	return v.id2tk[id]
}

// Has reports whether a token is in the vocabulary.
func (v *Vocabulary) Has(tk string) bool {
	_, ok := v.tk2id[tk]
	return ok
}

// Tokens returns the id-ordered token list (a copy).
func (v *Vocabulary) Tokens() []string {
	out := make([]string, len(v.id2tk))
	copy(out, v.id2tk)
	return out
}
