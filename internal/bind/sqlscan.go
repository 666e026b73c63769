package bind

import "strings"

// The bind-token scan has to ignore comments and string literals: a token
// like ":region" inside a quoted literal or a comment is decorative text,
// not a parameter reference. This is a best-effort lexer for the dialects we
// execute against, kept behind BindScanner so a real tokenizer could replace
// it without touching the binder.

type BindScanner interface {
	BindNames(sqlText string) map[string]struct{}
}

type lexScanner struct{}

func NewScanner() BindScanner { return lexScanner{} }

func (lexScanner) BindNames(sqlText string) map[string]struct{} {
	names := make(map[string]struct{})
	ReplaceBindTokens(sqlText, func(name string) string {
		names[strings.ToLower(name)] = struct{}{}
		return ":" + name
	})
	return names
}

// ReplaceBindTokens walks sqlText once, passing every real bind token (a
// ":name" outside comments and literals) through repl and leaving all other
// text byte-for-byte intact. "::" casts are never treated as bind tokens.
func ReplaceBindTokens(sqlText string, repl func(name string) string) string {
	var out strings.Builder
	out.Grow(len(sqlText))

	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch {
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			end := strings.IndexByte(sqlText[i:], '\n')
			if end < 0 {
				out.WriteString(sqlText[i:])
				return out.String()
			}
			out.WriteString(sqlText[i : i+end+1])
			i += end + 1
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				out.WriteString(sqlText[i:])
				return out.String()
			}
			out.WriteString(sqlText[i : i+2+end+2])
			i += 2 + end + 2
		case (c == 'q' || c == 'Q') && i+2 < len(sqlText) && sqlText[i+1] == '\'':
			// Alternate-quote literal: q'<delim>...<delim>'.
			closer := qQuoteCloser(sqlText[i+2])
			end := strings.Index(sqlText[i+3:], string(closer)+"'")
			if end < 0 {
				out.WriteString(sqlText[i:])
				return out.String()
			}
			out.WriteString(sqlText[i : i+3+end+2])
			i += 3 + end + 2
		case c == '\'':
			length := quotedLiteralLength(sqlText[i:])
			out.WriteString(sqlText[i : i+length])
			i += length
		case c == ':':
			if i+1 < len(sqlText) && sqlText[i+1] == ':' {
				out.WriteString("::")
				i += 2
				continue
			}
			nameLen := bindNameLength(sqlText[i+1:])
			if nameLen == 0 {
				out.WriteByte(c)
				i++
				continue
			}
			out.WriteString(repl(sqlText[i+1 : i+1+nameLen]))
			i += 1 + nameLen
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

// quotedLiteralLength returns the length of the single-quoted literal at the
// start of s, treating '' as an escaped quote. An unterminated literal runs
// to the end of s.
func quotedLiteralLength(s string) int {
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

// bindNameLength returns the length of a bind identifier at the start of s,
// or 0 when s does not start one. Positional binds like :1 are not named
// parameters.
func bindNameLength(s string) int {
	if len(s) == 0 || !isBindNameStart(s[0]) {
		return 0
	}
	i := 1
	for i < len(s) && isBindNameByte(s[i]) {
		i++
	}
	return i
}

func isBindNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isBindNameByte(c byte) bool {
	return isBindNameStart(c) || (c >= '0' && c <= '9') || c == '$' || c == '#'
}

func qQuoteCloser(opener byte) byte {
	switch opener {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	case '<':
		return '>'
	default:
		return opener
	}
}
