// Package formtree rebuilds flat form keys such as creditos[0][montoCredito]
// or datosMedicos.aseguradora into a nested value tree.
package formtree

import (
	"strconv"
	"strings"

	"docmerge/internal/errs"
)

// Kind classifies a path token.
type Kind int

const (
	// Name is the leading, top-level field name.
	Name Kind = iota
	// Index is a numeric array position: [3].
	Index
	// Key is a map key, from [key] or .key.
	Key
	// Append is a trailing [] marking a list value.
	Append
)

// Token is one decomposed segment of a form key.
type Token struct {
	Kind  Kind
	Name  string
	Index int
}

// Path is a tokenized form key.
type Path []Token

// String renders p in canonical bracket form.
func (p Path) String() string {
	var b strings.Builder
	for _, t := range p {
		switch t.Kind {
		case Name:
			b.WriteString(t.Name)
		case Index:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(t.Index))
			b.WriteByte(']')
		case Key:
			b.WriteByte('[')
			b.WriteString(t.Name)
			b.WriteByte(']')
		case Append:
			b.WriteString("[]")
		}
	}
	return b.String()
}

// ParsePath tokenizes key. Bracket and dot segments may be mixed; digits
// become Index tokens and identifiers become Key tokens.
func ParsePath(key string) (Path, error) {
	if key == "" {
		return nil, &errs.ValidationError{Reason: "empty key"}
	}
	i := strings.IndexAny(key, "[.")
	if i < 0 {
		i = len(key)
	}
	if i == 0 {
		return nil, &errs.ValidationError{Key: key, Reason: "missing leading field name"}
	}
	p := Path{{Kind: Name, Name: key[:i]}}

	for i < len(key) {
		switch key[i] {
		case '[':
			j := strings.IndexByte(key[i+1:], ']')
			if j < 0 {
				return nil, &errs.ValidationError{Key: key, Token: key[i:], Reason: "is an unterminated bracket"}
			}
			seg := key[i+1 : i+1+j]
			i += j + 2
			if seg == "" {
				if i != len(key) {
					return nil, &errs.ValidationError{Key: key, Token: "[]", Reason: "must be the last segment"}
				}
				p = append(p, Token{Kind: Append})
				continue
			}
			tok, err := segment(key, seg)
			if err != nil {
				return nil, err
			}
			p = append(p, tok)
		case '.':
			end := strings.IndexAny(key[i+1:], "[.")
			if end < 0 {
				end = len(key) - i - 1
			}
			seg := key[i+1 : i+1+end]
			i += end + 1
			if seg == "" {
				return nil, &errs.ValidationError{Key: key, Reason: "has an empty dot segment"}
			}
			tok, err := segment(key, seg)
			if err != nil {
				return nil, err
			}
			p = append(p, tok)
		default:
			return nil, &errs.ValidationError{Key: key, Token: key[i:], Reason: "follows a closing bracket"}
		}
	}
	return p, nil
}

func segment(key, seg string) (Token, error) {
	if isDigits(seg) {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Token{}, &errs.ValidationError{Key: key, Token: seg, Reason: "is out of range"}
		}
		return Token{Kind: Index, Index: n}, nil
	}
	if c := seg[0]; (c >= '0' && c <= '9') || c == '-' || c == '+' {
		return Token{}, &errs.ValidationError{Key: key, Token: seg, Reason: "is not a numeric index"}
	}
	for _, r := range seg {
		if !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return Token{}, &errs.ValidationError{Key: key, Token: seg, Reason: "is not a valid key"}
		}
	}
	return Token{Kind: Key, Name: seg}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
