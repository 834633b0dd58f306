package master

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

type token struct {
	tok  rune
	text string
	line int
}

type valueKind int

const (
	valString valueKind = iota
	valNumber
	valBool
	valNull
	valList
)

// value is a literal argument of a declaration call.
type value struct {
	kind valueKind
	text string
	list []value
}

func (v value) describe() string {
	switch v.kind {
	case valString:
		return strconv.Quote(v.text)
	case valList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.describe()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return v.text
	}
}

// call is one `name(args...)` element of a declaration chain.
type call struct {
	name string
	args []value
	line int
}

// statement is a chain of calls: the head declares, the rest modify.
type statement []call

// block is the token range of one `table name { ... }` definition.
type block struct {
	name   string
	line   int
	tokens []token
}

func tokenize(src, filename string) ([]token, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(src))
	s.Filename = filename
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments

	var scanErr error
	s.Error = func(s *scanner.Scanner, msg string) {
		if scanErr == nil {
			scanErr = syntaxErr(s.Pos().Line, "%s", msg)
		}
	}

	var out []token
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		out = append(out, token{tok: tok, text: s.TokenText(), line: s.Position.Line})
	}
	return out, scanErr
}

// splitBlocks cuts the token stream into table blocks using brace matching.
// Braces only ever delimit blocks, so a malformed block never swallows the
// next one.
func splitBlocks(tokens []token) ([]block, error) {
	var blocks []block
	for i := 0; i < len(tokens); {
		tk := tokens[i]
		if tk.tok != scanner.Ident || tk.text != "table" {
			return blocks, &ParseError{Line: tk.line, Msg: fmt.Sprintf("expected table block, found %q", tk.text)}
		}
		if i+2 >= len(tokens) {
			return blocks, &ParseError{Line: tk.line, Msg: "unterminated table block"}
		}
		nameTok := tokens[i+1]
		name := nameTok.text
		switch nameTok.tok {
		case scanner.Ident:
		case scanner.String, scanner.RawString:
			unq, err := strconv.Unquote(nameTok.text)
			if err != nil {
				return blocks, &ParseError{Line: nameTok.line, Msg: "invalid table name"}
			}
			name = unq
		default:
			return blocks, &ParseError{Line: nameTok.line, Msg: fmt.Sprintf("expected table name, found %q", nameTok.text)}
		}
		if tokens[i+2].tok != '{' {
			return blocks, &ParseError{Table: name, Line: tokens[i+2].line, Msg: "expected {"}
		}
		end := -1
		for j := i + 3; j < len(tokens); j++ {
			if tokens[j].tok == '{' {
				return blocks, &ParseError{Table: name, Line: tokens[j].line, Msg: "nested { is not allowed"}
			}
			if tokens[j].tok == '}' {
				end = j
				break
			}
		}
		if end < 0 {
			return blocks, &ParseError{Table: name, Line: tk.line, Msg: "missing closing }"}
		}
		blocks = append(blocks, block{name: name, line: tk.line, tokens: tokens[i+3 : end]})
		i = end + 1
	}
	return blocks, nil
}

type blockParser struct {
	tokens []token
	pos    int
}

func (p *blockParser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{tok: scanner.EOF}
	}
	return p.tokens[p.pos]
}

func (p *blockParser) next() token {
	tk := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tk
}

func (p *blockParser) expect(tok rune, what string) (token, error) {
	tk := p.next()
	if tk.tok != tok {
		return tk, syntaxErr(tk.line, "expected %s, found %q", what, tk.text)
	}
	return tk, nil
}

func (p *blockParser) statements() ([]statement, error) {
	var out []statement
	for p.peek().tok != scanner.EOF {
		if p.peek().tok == ';' {
			p.next()
			continue
		}
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (p *blockParser) statement() (statement, error) {
	head, err := p.call()
	if err != nil {
		return nil, err
	}
	st := statement{head}
	for p.peek().tok == '.' {
		p.next()
		c, err := p.call()
		if err != nil {
			return nil, err
		}
		st = append(st, c)
	}
	return st, nil
}

func (p *blockParser) call() (call, error) {
	name, err := p.expect(scanner.Ident, "declaration name")
	if err != nil {
		return call{}, err
	}
	if _, err := p.expect('(', "("); err != nil {
		return call{}, err
	}
	c := call{name: name.text, line: name.line}
	if p.peek().tok == ')' {
		p.next()
		return c, nil
	}
	for {
		v, err := p.value()
		if err != nil {
			return call{}, err
		}
		c.args = append(c.args, v)
		tk := p.next()
		if tk.tok == ')' {
			return c, nil
		}
		if tk.tok != ',' {
			return call{}, syntaxErr(tk.line, "expected , or ) in %s(...), found %q", c.name, tk.text)
		}
	}
}

func (p *blockParser) value() (value, error) {
	tk := p.next()
	switch tk.tok {
	case scanner.String, scanner.RawString:
		s, err := strconv.Unquote(tk.text)
		if err != nil {
			return value{}, syntaxErr(tk.line, "invalid string %s", tk.text)
		}
		return value{kind: valString, text: s}, nil
	case scanner.Int, scanner.Float:
		return value{kind: valNumber, text: tk.text}, nil
	case '-':
		num := p.next()
		if num.tok != scanner.Int && num.tok != scanner.Float {
			return value{}, syntaxErr(tk.line, "expected number after -")
		}
		return value{kind: valNumber, text: "-" + num.text}, nil
	case scanner.Ident:
		switch tk.text {
		case "true", "false":
			return value{kind: valBool, text: tk.text}, nil
		case "null":
			return value{kind: valNull, text: "null"}, nil
		}
		return value{}, syntaxErr(tk.line, "unexpected identifier %q", tk.text)
	case '[':
		list := value{kind: valList}
		if p.peek().tok == ']' {
			p.next()
			return list, nil
		}
		for {
			item, err := p.value()
			if err != nil {
				return value{}, err
			}
			if item.kind == valList {
				return value{}, syntaxErr(tk.line, "nested lists are not allowed")
			}
			list.list = append(list.list, item)
			sep := p.next()
			if sep.tok == ']' {
				return list, nil
			}
			if sep.tok != ',' {
				return value{}, syntaxErr(sep.line, "expected , or ] in list, found %q", sep.text)
			}
		}
	default:
		return value{}, syntaxErr(tk.line, "unexpected %q", tk.text)
	}
}
