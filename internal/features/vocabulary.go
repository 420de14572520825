package features

import "sort"

const (
	// UnknownToken holds the reserved code for values never seen during Fit.
	UnknownToken = "<unknown>"
	// MissingToken replaces empty categorical values before encoding.
	MissingToken = "<missing>"

	UnknownCode = 0
)

// Vocabulary maps the categorical values observed during Fit to stable codes.
// Code 0 is always UnknownToken; observed values follow in lexical order.
type Vocabulary struct {
	Field  string   `json:"field"`
	Tokens []string `json:"tokens"`

	codes map[string]int
}

func buildVocabulary(field string, observed map[string]struct{}) *Vocabulary {
	tokens := make([]string, 0, len(observed)+1)
	for v := range observed {
		if v == UnknownToken {
			continue
		}
		tokens = append(tokens, v)
	}
	sort.Strings(tokens)
	return newVocabulary(field, append([]string{UnknownToken}, tokens...))
}

func newVocabulary(field string, tokens []string) *Vocabulary {
	v := &Vocabulary{Field: field, Tokens: tokens, codes: make(map[string]int, len(tokens))}
	for i, t := range tokens {
		v.codes[t] = i
	}
	return v
}

// Code returns the code for value and whether it was seen during Fit.
// Unseen values map to UnknownCode.
func (v *Vocabulary) Code(value string) (int, bool) {
	if c, ok := v.codes[value]; ok && c != UnknownCode {
		return c, true
	}
	return UnknownCode, false
}

// Token returns the value behind a code, or UnknownToken when out of range.
func (v *Vocabulary) Token(code int) string {
	if code < 0 || code >= len(v.Tokens) {
		return UnknownToken
	}
	return v.Tokens[code]
}

func (v *Vocabulary) Len() int {
	return len(v.Tokens)
}
