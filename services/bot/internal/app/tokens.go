package app

import (
	"strconv"
	"strings"
)

type TokenKind int

const (
	TokenFreeText TokenKind = iota
	TokenMenu
	TokenCommand
	// TokenPartOrdinal is "N-qism".
	TokenPartOrdinal
	// TokenNumber is a bare positive integer.
	TokenNumber
	// TokenTriple is pipe-delimited "code | title | description".
	TokenTriple
)

const partSuffix = "-qism"

// Token is the syntactic reading of one text message. Which fields are set
// depends on Kind.
type Token struct {
	Kind    TokenKind
	Text    string
	Menu    MenuAction
	Command string
	Args    []string
	Number  int
	Fields  []string
}

// ValidTriple reports whether a triple has all three fields and a code.
func (t Token) ValidTriple() bool {
	return t.Kind == TokenTriple && len(t.Fields) == 3 && t.Fields[0] != ""
}

// ParseInput classifies text purely by shape; it never looks at session state.
func ParseInput(text string) Token {
	s := strings.TrimSpace(text)
	tok := Token{Kind: TokenFreeText, Text: s}
	if s == "" {
		return tok
	}
	if strings.HasPrefix(s, "/") {
		fields := strings.Fields(s)
		name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		if name != "" {
			tok.Kind = TokenCommand
			tok.Command = name
			tok.Args = fields[1:]
			return tok
		}
	}
	if action, ok := menuLabels[s]; ok {
		tok.Kind = TokenMenu
		tok.Menu = action
		return tok
	}
	if strings.HasSuffix(strings.ToLower(s), partSuffix) {
		if n, ok := positiveInt(s[:len(s)-len(partSuffix)]); ok {
			tok.Kind = TokenPartOrdinal
			tok.Number = n
			return tok
		}
	}
	if n, ok := positiveInt(s); ok {
		tok.Kind = TokenNumber
		tok.Number = n
		return tok
	}
	if strings.Contains(s, "|") {
		parts := strings.SplitN(s, "|", 3)
		tok.Kind = TokenTriple
		tok.Fields = make([]string, 0, len(parts))
		for _, p := range parts {
			tok.Fields = append(tok.Fields, strings.TrimSpace(p))
		}
	}
	return tok
}

func positiveInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
