// pkg/sql/lexer/lexer_test.go
package lexer

import "testing"

func collect(input string) []Token {
	l := New(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == EOF || tok.Type == ILLEGAL {
			break
		}
	}
	return toks
}

func TestSimpleSelect(t *testing.T) {
	toks := collect("SELECT a, b FROM t WHERE a = 1;")
	want := []TokenType{SELECT, IDENT, COMMA, IDENT, FROM, IDENT, WHERE, IDENT, EQ, INT, SEMICOLON, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %v, want %v", i, toks[i].Type, w)
		}
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	for _, src := range []string{"select", "Select", "SELECT", "sElEcT"} {
		toks := collect(src)
		if toks[0].Type != SELECT {
			t.Errorf("%q: expected SELECT, got %v", src, toks[0].Type)
		}
	}
}

func TestIdentifierCasePreserved(t *testing.T) {
	toks := collect("MyTable")
	if toks[0].Literal != "MyTable" {
		t.Errorf("expected identifier case preserved, got %q", toks[0].Literal)
	}
}

func TestStringEscapedQuote(t *testing.T) {
	toks := collect("'it''s'")
	if toks[0].Type != STRING || toks[0].Literal != "it's" {
		t.Errorf("got %+v, want STRING \"it's\"", toks[0])
	}
}

func TestUnterminatedString(t *testing.T) {
	toks := collect("'abc")
	last := toks[len(toks)-1]
	if last.Type != ILLEGAL {
		t.Errorf("expected ILLEGAL for unterminated string, got %v", last.Type)
	}
}

func TestUnterminatedBlockComment(t *testing.T) {
	toks := collect("SELECT 1 /* oops")
	last := toks[len(toks)-1]
	if last.Type != ILLEGAL {
		t.Errorf("expected ILLEGAL for unterminated comment, got %v", last.Type)
	}
}

func TestLineAndBlockCommentsSkipped(t *testing.T) {
	toks := collect("SELECT /* c */ 1 -- trailing\n, 2")
	want := []TokenType{SELECT, INT, COMMA, INT, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
}

func TestNumberKinds(t *testing.T) {
	cases := map[string]TokenType{
		"123": INT, "1.5": FLOAT, ".5": FLOAT, "1e10": FLOAT, "1.5e-3": FLOAT,
	}
	for src, want := range cases {
		toks := collect(src)
		if toks[0].Type != want {
			t.Errorf("%q: got %v, want %v", src, toks[0].Type, want)
		}
	}
}

func TestOperators(t *testing.T) {
	toks := collect("<= >= <> != < > = + - * / %")
	want := []TokenType{LTE, GTE, NEQ, NEQ, LT, GT, EQ, PLUS, MINUS, STAR, SLASH, PERCENT, EOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %v, want %v", i, toks[i].Type, w)
		}
	}
}

func TestPositionsTracked(t *testing.T) {
	toks := collect("SELECT   a")
	if toks[1].Pos != 9 {
		t.Errorf("expected identifier at position 9, got %d", toks[1].Pos)
	}
}

func TestIllegalCharacter(t *testing.T) {
	toks := collect("SELECT @")
	if toks[len(toks)-1].Type != ILLEGAL {
		t.Errorf("expected ILLEGAL for '@'")
	}
}
