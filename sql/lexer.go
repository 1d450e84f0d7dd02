package sql

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenKeyword
	tokenNumber
	tokenString
	tokenOperator
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of input"
	case tokenIdent:
		return "identifier"
	case tokenKeyword:
		return "keyword"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	default:
		return "operator"
	}
}

var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "GROUP": {}, "BY": {}, "HAVING": {},
	"ORDER": {}, "LIMIT": {}, "AS": {}, "AND": {}, "OR": {}, "NOT": {}, "IS": {},
	"NULL": {}, "TRUE": {}, "FALSE": {}, "LIKE": {}, "IN": {}, "ASC": {}, "DESC": {},
	"JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {}, "OUTER": {},
	"ON": {}, "USING": {}, "CAST": {}, "DISTINCT": {}, "BETWEEN": {},
}

type token struct {
	kind tokenKind
	// text is upper-cased for keywords
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%q", t.text)
}

// SyntaxError points at the offending position, counted in characters from 1.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

func lex(input string) ([]token, error) {
	var (
		tokens []token
		runes  = []rune(input)
		i      int
	)
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			if _, ok := keywords[strings.ToUpper(word)]; ok {
				tokens = append(tokens, token{kind: tokenKeyword, text: strings.ToUpper(word), pos: start + 1})
			} else {
				tokens = append(tokens, token{kind: tokenIdent, text: word, pos: start + 1})
			}
		case r == '`':
			start := i
			i++
			var b strings.Builder
			for {
				if i >= len(runes) {
					return nil, &SyntaxError{Pos: start + 1, Msg: "unterminated quoted identifier"}
				}
				if runes[i] == '`' {
					if i+1 < len(runes) && runes[i+1] == '`' {
						b.WriteRune('`')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: b.String(), pos: start + 1})
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			dot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !dot)) {
				if runes[i] == '.' {
					dot = true
				}
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start + 1})
		case r == '\'' || r == '"':
			quote, start := r, i
			i++
			var b strings.Builder
			for {
				if i >= len(runes) {
					return nil, &SyntaxError{Pos: start + 1, Msg: "unterminated string literal"}
				}
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						b.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{kind: tokenString, text: b.String(), pos: start + 1})
		default:
			start := i
			op := string(r)
			if i+1 < len(runes) {
				switch two := string(runes[i : i+2]); two {
				case "<=", ">=", "<>", "!=", "==":
					op = two
				}
			}
			if !strings.Contains("+-*/%=<>!(),.;", string(r)) {
				return nil, &SyntaxError{Pos: start + 1, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			i += len([]rune(op))
			tokens = append(tokens, token{kind: tokenOperator, text: op, pos: start + 1})
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes) + 1})
	return tokens, nil
}
