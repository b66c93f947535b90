/*
Copyright © 2021 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package grub

import "fmt"

// parser is a recursive-descent parser over the token stream produced
// by lex, building the Stmt sequence the evaluator executes.
type parser struct {
	toks []token
	pos  int
}

// parse tokenizes and parses source into a top-level statement sequence.
func parse(source string) ([]Stmt, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmts, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errf("unexpected trailing token")
	}
	return stmts, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...interface{}) error {
	return fmt.Errorf("grub: line %d: %s", p.peek().line, fmt.Sprintf(format, args...))
}

func (p *parser) skipSeps() {
	for p.peek().kind == tokSep {
		p.next()
	}
}

// isKeyword reports whether the current token is a bare word equal to
// any of kws, without consuming it.
func (p *parser) isKeyword(kws ...string) bool {
	t := p.peek()
	if t.kind != tokWord || len(t.word.segments) != 1 || t.word.segments[0].kind != segBare {
		return false
	}
	text := t.word.Raw()
	for _, kw := range kws {
		if text == kw {
			return true
		}
	}
	return false
}

// parseBlock parses statements until a terminator keyword (one of until)
// is seen at statement-start, or tokEOF/tokRBrace is reached when until
// is empty (used for brace-delimited bodies).
func (p *parser) parseBlock(until []string) ([]Stmt, error) {
	var stmts []Stmt
	for {
		p.skipSeps()
		if len(until) > 0 && p.isKeyword(until...) {
			return stmts, nil
		}
		if p.peek().kind == tokEOF || p.peek().kind == tokRBrace {
			return stmts, nil
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

func (p *parser) parseStmt() (Stmt, error) {
	switch {
	case p.isKeyword("if"):
		return p.parseIf()
	case p.isKeyword("while"):
		return p.parseWhile()
	case p.isKeyword("for"):
		return p.parseFor()
	case p.isKeyword("function"):
		return p.parseFunction()
	case p.isKeyword("menuentry"):
		return p.parseMenu(false)
	case p.isKeyword("submenu"):
		return p.parseMenu(true)
	default:
		return p.parseSimple()
	}
}

// parseWords reads words until a separator, tokEOF, tokLBrace or a
// keyword in stopAt is hit.
func (p *parser) parseWords(stopAt ...string) []Word {
	var words []Word
	for {
		t := p.peek()
		if t.kind != tokWord {
			return words
		}
		if len(stopAt) > 0 && p.isKeyword(stopAt...) {
			return words
		}
		words = append(words, t.word)
		p.next()
	}
}

// parseCond parses a single command used as an if/while condition, up to
// (but not consuming) the following separator.
func (p *parser) parseCond() (*CommandStmt, error) {
	words := p.parseWords()
	if len(words) == 0 {
		return nil, p.errf("expected condition command")
	}
	return &CommandStmt{Name: words[0], Args: words[1:]}, nil
}

func (p *parser) expectKeyword(kw string) error {
	p.skipSeps()
	if !p.isKeyword(kw) {
		return p.errf("expected %q", kw)
	}
	p.next()
	return nil
}

func (p *parser) parseSimple() (Stmt, error) {
	words := p.parseWords()
	if len(words) == 0 {
		return nil, p.errf("expected statement")
	}
	if len(words) == 1 {
		if name, value, ok := splitAssignment(words[0]); ok {
			return &AssignStmt{Name: name, Value: value}, nil
		}
	}
	return &CommandStmt{Name: words[0], Args: words[1:]}, nil
}

// splitAssignment reports whether w is a bare `NAME=VALUE` word: the
// leading run of a single word must be an unquoted identifier
// immediately followed by '='.
func splitAssignment(w Word) (name string, value Word, ok bool) {
	if len(w.segments) == 0 || w.segments[0].kind != segBare {
		return "", Word{}, false
	}
	head := w.segments[0].text
	eq := -1
	for i := 0; i < len(head); i++ {
		if head[i] == '=' {
			eq = i
			break
		}
		if !isIdentCont(head[i]) || (i == 0 && !isIdentStart(head[i])) {
			return "", Word{}, false
		}
	}
	if eq <= 0 {
		return "", Word{}, false
	}
	name = head[:eq]
	rest := head[eq+1:]
	value.segments = append(value.segments, segment{text: rest, kind: segBare})
	value.segments = append(value.segments, w.segments[1:]...)
	return name, value, true
}

func (p *parser) parseIf() (Stmt, error) {
	p.next() // "if"
	cond, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock([]string{"elif", "else", "fi"})
	if err != nil {
		return nil, err
	}

	stmt := &IfStmt{Cond: cond, Then: then}
	for p.isKeyword("elif") {
		p.next()
		elifCond, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		body, err := p.parseBlock([]string{"elif", "else", "fi"})
		if err != nil {
			return nil, err
		}
		stmt.Elifs = append(stmt.Elifs, ElifClause{Cond: elifCond, Body: body})
	}
	if p.isKeyword("else") {
		p.next()
		body, err := p.parseBlock([]string{"fi"})
		if err != nil {
			return nil, err
		}
		stmt.Else = body
	}
	if err := p.expectKeyword("fi"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	p.next() // "while"
	cond, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock([]string{"done"})
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("done"); err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	p.next() // "for"
	nameTok := p.next()
	if nameTok.kind != tokWord {
		return nil, p.errf("expected loop variable name")
	}
	name := nameTok.word.Raw()
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	values := p.parseWords("do")
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock([]string{"done"})
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("done"); err != nil {
		return nil, err
	}
	return &ForStmt{Name: name, Values: values, Body: body}, nil
}

func (p *parser) parseFunction() (Stmt, error) {
	p.next() // "function"
	nameTok := p.next()
	if nameTok.kind != tokWord {
		return nil, p.errf("expected function name")
	}
	name := nameTok.word.Raw()
	p.skipSeps()
	if p.peek().kind != tokLBrace {
		return nil, p.errf("expected '{'")
	}
	p.next()
	body, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokRBrace {
		return nil, p.errf("expected '}'")
	}
	p.next()
	return &FuncStmt{Name: name, Body: body}, nil
}

func (p *parser) parseMenu(submenu bool) (Stmt, error) {
	p.next() // "menuentry" or "submenu"
	titleTok := p.next()
	if titleTok.kind != tokWord {
		return nil, p.errf("expected title")
	}
	stmt := &MenuStmt{Submenu: submenu, Title: titleTok.word}

	// Scan remaining flags up to '{'; only --id is recognized, anything
	// else is skipped leniently, like GRUB treats unknown options.
	for p.peek().kind == tokWord {
		if p.isFlag("--id") {
			p.next()
			idTok := p.next()
			if idTok.kind != tokWord {
				return nil, p.errf("expected --id value")
			}
			stmt.ID = idTok.word
			stmt.HasID = true
			continue
		}
		p.next()
	}

	p.skipSeps()
	if p.peek().kind != tokLBrace {
		return nil, p.errf("expected '{'")
	}
	p.next()
	body, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokRBrace {
		return nil, p.errf("expected '}'")
	}
	p.next()
	stmt.Body = body
	return stmt, nil
}

func (p *parser) isFlag(flag string) bool {
	t := p.peek()
	return t.kind == tokWord && t.word.Raw() == flag
}
