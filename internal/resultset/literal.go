package resultset

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseTupleList parses a stringified list of tuples such as
// "[(1, 'a'), (2, None)]". Integers become int64, floats float64,
// None nil and True/False bool.
func ParseTupleList(text string) ([][]any, error) {
	p := &literalParser{src: text}
	p.skipSpace()
	if !p.consume('[') {
		return nil, p.errorf("expected '['")
	}
	rows := make([][]any, 0)
	for {
		p.skipSpace()
		if p.consume(']') {
			break
		}
		if len(rows) > 0 {
			if !p.consume(',') {
				return nil, p.errorf("expected ',' or ']'")
			}
			p.skipSpace()
			if p.consume(']') {
				break
			}
		}
		p.skipSpace()
		if p.peek() != '(' {
			return nil, p.errorf("expected '('")
		}
		tuple, err := p.parseTuple()
		if err != nil {
			return nil, err
		}
		rows = append(rows, tuple)
	}
	p.skipSpace()
	if !p.done() {
		return nil, p.errorf("unexpected trailing input")
	}
	return rows, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) done() bool {
	return p.pos >= len(p.src)
}

func (p *literalParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) consume(b byte) bool {
	if p.peek() == b && !p.done() {
		p.pos++
		return true
	}
	return false
}

func (p *literalParser) skipSpace() {
	for !p.done() {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) parseTuple() ([]any, error) {
	if !p.consume('(') {
		return nil, p.errorf("expected '('")
	}
	values := make([]any, 0)
	for {
		p.skipSpace()
		if p.consume(')') {
			return values, nil
		}
		if len(values) > 0 {
			if !p.consume(',') {
				return nil, p.errorf("expected ',' or ')'")
			}
			p.skipSpace()
			if p.consume(')') {
				return values, nil
			}
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
}

func (p *literalParser) parseValue() (any, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case p.done():
		return nil, p.errorf("unexpected end of input")
	case c == '(':
		return p.parseTuple()
	case c == '\'' || c == '"':
		return p.parseString()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseKeyword()
	}
}

func (p *literalParser) parseKeyword() (any, error) {
	start := p.pos
	for !p.done() {
		c := p.src[p.pos]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
			break
		}
		p.pos++
	}
	switch word := p.src[start:p.pos]; word {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	default:
		p.pos = start
		return nil, p.errorf("unsupported literal %q", word)
	}
}

func (p *literalParser) parseNumber() (any, error) {
	start := p.pos
	for !p.done() {
		c := p.src[p.pos]
		if !(c >= '0' && c <= '9' || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' || c == '_') {
			break
		}
		p.pos++
	}
	token := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if integer, err := strconv.ParseInt(token, 10, 64); err == nil {
		return integer, nil
	}
	if float, err := strconv.ParseFloat(token, 64); err == nil {
		return float, nil
	}
	p.pos = start
	return nil, p.errorf("invalid number %q", token)
}

func (p *literalParser) parseString() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for {
		if p.done() {
			return nil, p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if p.done() {
				return nil, p.errorf("unterminated escape")
			}
			if err := p.writeEscape(&b); err != nil {
				return nil, err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
}

func (p *literalParser) writeEscape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '0':
		b.WriteByte(0)
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'x':
		if p.pos+2 > len(p.src) {
			return p.errorf("short \\x escape")
		}
		code, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
		if err != nil {
			return p.errorf("invalid \\x escape")
		}
		b.WriteRune(rune(code))
		p.pos += 2
	case 'u':
		if p.pos+4 > len(p.src) {
			return p.errorf("short \\u escape")
		}
		code, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return p.errorf("invalid \\u escape")
		}
		b.WriteRune(rune(code))
		p.pos += 4
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}
