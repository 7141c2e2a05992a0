package fortran

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var ErrMalformedNamelist = errors.New("fortran: malformed namelist")

// snippet length of the context reported with parse errors
const snippetLength = 32

var (
	reBlockName = regexp.MustCompile(`^&([A-Za-z]\w*)`)
	reKey       = regexp.MustCompile(`^([A-Za-z]\w*(?:\s*\([^)]*\))?(?:%[A-Za-z]\w*(?:\s*\([^)]*\))?)*)\s*=`)
	reRepeat    = regexp.MustCompile(`^(\d+)\*`)
	reBozStart  = regexp.MustCompile(`^[BbOoZz]['"]`)
)

// Parser reads namelist files.
//
// Registered macro names found in value position (bare or quoted) are kept
// as Macro references instead of being parsed as literals.
type Parser struct {
	macros map[string]string
}

func NewParser(macros ...string) *Parser {
	p := &Parser{macros: map[string]string{}}
	p.AddMacro(macros...)
	return p
}

func (p *Parser) AddMacro(names ...string) {
	for _, n := range names {
		p.macros[strings.ToUpper(n)] = n
	}
}

func (p *Parser) macro(token string) (Macro, bool) {
	n, ok := p.macros[strings.ToUpper(token)]
	return Macro(n), ok
}

func (p *Parser) ParseFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.ParseReader(f)
}

func (p *Parser) ParseReader(r io.Reader) (*Set, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return p.Parse(string(buf))
}

// Parse reads every `&NAME ... /` block of text.
func (p *Parser) Parse(text string) (*Set, error) {
	sc := &scanner{text: text}
	set := NewSet()
	for {
		sc.skipBlank()
		if sc.eof() {
			return set, nil
		}
		m := reBlockName.FindStringSubmatch(sc.rest())
		if m == nil || strings.EqualFold(m[1], "END") {
			return nil, sc.malformed("block start expected")
		}
		sc.advance(len(m[0]))
		block := NewBlock(m[1])
		if err := p.parseBody(sc, block); err != nil {
			return nil, err
		}
		set.Add(block)
	}
}

type assignment struct {
	key     string
	values  []Value
	deleted bool
}

func (p *Parser) parseBody(sc *scanner, block *Block) error {
	var current *assignment
	flush := func() {
		if current == nil {
			return
		}
		if current.deleted {
			block.DelVar(current.key)
		} else {
			block.SetVar(current.key, current.values...)
		}
		current = nil
	}

	for {
		sc.skipBlank()
		switch {
		case sc.eof():
			return sc.malformed(fmt.Sprintf("block %s is not terminated", block.Name()))
		case sc.peek() == '/':
			sc.advance(1)
			sc.skipWord("END")
			flush()
			return nil
		case sc.peek() == '&':
			m := reBlockName.FindStringSubmatch(sc.rest())
			if m == nil || !strings.EqualFold(m[1], "END") {
				return sc.malformed(fmt.Sprintf("block %s is not terminated", block.Name()))
			}
			sc.advance(len(m[0]))
			flush()
			return nil
		case sc.peek() == ',':
			// null value
			sc.advance(1)
			continue
		}

		if m := reKey.FindStringSubmatch(sc.rest()); m != nil {
			flush()
			current = &assignment{key: stripSpaces(m[1])}
			sc.advance(len(m[0]))
			continue
		}
		if current == nil {
			return sc.malformed("variable assignment expected")
		}

		start := sc.pos
		repeat := 1
		if m := reRepeat.FindStringSubmatch(sc.rest()); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				return sc.malformed("bad repeat count")
			}
			repeat = n
			sc.advance(len(m[0]))
		}
		token, quoted, err := sc.token()
		if err != nil {
			return err
		}
		if token == "" {
			// `N*` alone stands for N null values
			continue
		}

		if !quoted && token == "-" {
			current.deleted = true
			current.values = nil
			continue
		}

		var value Value
		if m, ok := p.macroToken(token, quoted); ok {
			value = m
		} else {
			v, err := Parse(token)
			if err != nil {
				sc.pos = start
				return sc.malformed("no literal matches")
			}
			value = v
		}
		current.deleted = false
		for i := 0; i < repeat; i++ {
			current.values = append(current.values, value)
		}
	}
}

func (p *Parser) macroToken(token string, quoted bool) (Macro, bool) {
	if !quoted {
		return p.macro(token)
	}
	inner, err := ParseCharacter(token)
	if err != nil {
		return "", false
	}
	return p.macro(string(inner))
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

type scanner struct {
	text string
	pos  int
}

func (sc *scanner) eof() bool     { return len(sc.text) <= sc.pos }
func (sc *scanner) rest() string  { return sc.text[sc.pos:] }
func (sc *scanner) peek() byte    { return sc.text[sc.pos] }
func (sc *scanner) advance(n int) { sc.pos += n }

func (sc *scanner) malformed(reason string) error {
	end := sc.pos + snippetLength
	if len(sc.text) < end {
		end = len(sc.text)
	}
	return fmt.Errorf("%w: %s at offset %d near %q", ErrMalformedNamelist, reason, sc.pos, sc.text[sc.pos:end])
}

// skipBlank skips whitespaces and `!` comments.
func (sc *scanner) skipBlank() {
	for !sc.eof() {
		c := sc.peek()
		switch {
		case c == '!':
			if nl := strings.IndexByte(sc.rest(), '\n'); 0 <= nl {
				sc.advance(nl + 1)
			} else {
				sc.pos = len(sc.text)
			}
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			sc.advance(1)
		default:
			return
		}
	}
}

// skipWord consumes word (case-insensitive) when it stands alone.
func (sc *scanner) skipWord(word string) {
	rest := sc.rest()
	if len(rest) < len(word) || !strings.EqualFold(rest[:len(word)], word) {
		return
	}
	if len(word) < len(rest) {
		c := rest[len(word)]
		if c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
			return
		}
	}
	sc.advance(len(word))
}

// token reads one value. quoted reports a character literal.
func (sc *scanner) token() (string, bool, error) {
	if sc.eof() {
		return "", false, nil
	}
	rest := sc.rest()
	switch c := rest[0]; {
	case c == '\'' || c == '"':
		n, err := sc.quotedLength(rest)
		if err != nil {
			return "", false, err
		}
		sc.advance(n)
		return rest[:n], true, nil
	case c == '(':
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", false, sc.malformed("unbalanced parenthesis")
		}
		sc.advance(end + 1)
		return rest[:end+1], false, nil
	case reBozStart.MatchString(rest):
		n, err := sc.quotedLength(rest[1:])
		if err != nil {
			return "", false, err
		}
		sc.advance(n + 1)
		return rest[:n+1], false, nil
	}

	n := strings.IndexFunc(rest, func(r rune) bool {
		switch r {
		case ',', '/', '!', '&', ' ', '\t', '\r', '\n':
			return true
		}
		return false
	})
	if n < 0 {
		n = len(rest)
	}
	sc.advance(n)
	return rest[:n], false, nil
}

// quotedLength returns the length of the quoted string s starts with,
// quotes included. Doubled quotes are part of the string.
func (sc *scanner) quotedLength(s string) (int, error) {
	q := s[0]
	for i := 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1, nil
	}
	return 0, sc.malformed("unterminated string")
}
