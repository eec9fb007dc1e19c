package transform

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/crimson-sun/tabflow/internal/model"
)

// MaxTermBytes bounds the length of a vocabulary term. Longer terms are not
// kept and map to the OOV id.
const MaxTermBytes = 1 << 20

// Vocabulary maps categorical terms to integer ids. Ids are assigned by
// frequency rank; terms outside the vocabulary share the id Size().
type Vocabulary struct {
	tokenToID map[string]int64
	idToToken []string
}

// buildVocabulary keeps the topK most frequent terms, ordered by descending
// frequency and then by descending term bytes, so equal corpora always yield
// equal ids. Terms containing line breaks cannot be stored one-per-line and
// are dropped, as are terms longer than MaxTermBytes.
func buildVocabulary(counts map[string]int64, topK int) *Vocabulary {
	terms := make([]string, 0, len(counts))
	for t := range counts {
		if len(t) > MaxTermBytes || strings.ContainsAny(t, "\n\r") {
			continue
		}
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		ci, cj := counts[terms[i]], counts[terms[j]]
		if ci != cj {
			return ci > cj
		}
		return terms[i] > terms[j]
	})
	if topK > 0 && len(terms) > topK {
		terms = terms[:topK]
	}
	return newVocabulary(terms)
}

func newVocabulary(tokens []string) *Vocabulary {
	v := &Vocabulary{
		tokenToID: make(map[string]int64, len(tokens)),
		idToToken: tokens,
	}
	for i, tok := range tokens {
		v.tokenToID[tok] = int64(i)
	}
	return v
}

// loadVocabulary reads a vocabulary file where each line is a term and the
// line number (0-indexed) is its id.
func loadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), MaxTermBytes+1)
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read error: %w", err)
	}
	return newVocabulary(tokens), nil
}

// write stores the vocabulary one term per line.
func (v *Vocabulary) write(path string) error {
	var buf bytes.Buffer
	for _, tok := range v.idToToken {
		buf.WriteString(tok)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	return nil
}

// Lookup returns the id of term, or OOVID if the term is not in the
// vocabulary.
func (v *Vocabulary) Lookup(term string) int64 {
	if id, ok := v.tokenToID[normalizeTerm(term)]; ok {
		return id
	}
	return v.OOVID()
}

// Contains reports whether term is in the vocabulary.
func (v *Vocabulary) Contains(term string) bool {
	_, ok := v.tokenToID[normalizeTerm(term)]
	return ok
}

// OOVID is the single id shared by all out-of-vocabulary terms.
func (v *Vocabulary) OOVID() int64 {
	return int64(len(v.idToToken))
}

// Size returns the number of in-vocabulary terms.
func (v *Vocabulary) Size() int {
	return len(v.idToToken)
}

// Terms returns the terms in id order.
func (v *Vocabulary) Terms() []string {
	return append([]string(nil), v.idToToken...)
}

// normalizeTerm puts a term in Unicode NFC so that composed and decomposed
// spellings count as the same value.
func normalizeTerm(s string) string {
	return norm.NFC.String(s)
}

// termsOf renders a categorical column as strings. Integer categories are
// formatted in base 10.
func termsOf(c model.Column) []string {
	switch c.Kind {
	case model.KindBytes:
		out := make([]string, len(c.Bytes))
		for i, b := range c.Bytes {
			out[i] = string(b)
		}
		return out
	case model.KindInt64:
		out := make([]string, len(c.Int64s))
		for i, v := range c.Int64s {
			out[i] = strconv.FormatInt(v, 10)
		}
		return out
	default:
		out := make([]string, len(c.Floats))
		for i, v := range c.Floats {
			out[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		return out
	}
}
