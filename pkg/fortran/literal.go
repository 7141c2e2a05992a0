// Package fortran reads and writes the FORTRAN literals and namelist files
// consumed by the numerical models.
//
// Literals are typed values: Integer, Boz, Real, Complex, Character and
// Logical. Reals and complexes are held as arbitrary-precision decimals so
// that parse/encode round-trips do not go through binary floats.
package fortran

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of significant digits kept when encoding reals.
const Precision = 15

var (
	ErrInvalidLiteral   = errors.New("fortran: invalid literal")
	ErrUnsupportedValue = errors.New("fortran: value cannot be encoded")
)

type Kind int

const (
	KindInteger Kind = iota
	KindBoz
	KindReal
	KindComplex
	KindCharacter
	KindLogical
	KindMacro
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindBoz:
		return "boz"
	case KindReal:
		return "real"
	case KindComplex:
		return "complex"
	case KindCharacter:
		return "character"
	case KindLogical:
		return "logical"
	case KindMacro:
		return "macro"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a literal held by a namelist variable.
type Value interface {
	Kind() Kind

	// Encode returns the FORTRAN source form of the value.
	Encode() string
}

type Integer int64

func (Integer) Kind() Kind         { return KindInteger }
func (i Integer) Encode() string   { return strconv.FormatInt(int64(i), 10) }
func (i Integer) GoString() string { return fmt.Sprintf("fortran.Integer(%d)", int64(i)) }

// Boz is an integer written in binary (2), octal (8) or hexadecimal (16) form.
type Boz struct {
	Base  int
	Value int64
}

func (Boz) Kind() Kind { return KindBoz }

// Encode writes the two's complement bit pattern of the value, so that
// negative values are written without sign.
func (b Boz) Encode() string {
	bits := uint64(b.Value)
	switch b.Base {
	case 2:
		return fmt.Sprintf("B'%s'", strconv.FormatUint(bits, 2))
	case 8:
		return fmt.Sprintf("O'%s'", strconv.FormatUint(bits, 8))
	}
	return fmt.Sprintf("Z'%s'", strings.ToUpper(strconv.FormatUint(bits, 16)))
}

type Real struct {
	Value decimal.Decimal
}

func NewReal(s string) (Real, error) {
	return ParseReal(s)
}

func (Real) Kind() Kind       { return KindReal }
func (r Real) Encode() string { return encodeReal(r.Value) }
func (r Real) String() string { return r.Value.String() }

type Complex struct {
	Re decimal.Decimal
	Im decimal.Decimal
}

func (Complex) Kind() Kind { return KindComplex }
func (c Complex) Encode() string {
	return "(" + encodeReal(c.Re) + "," + encodeReal(c.Im) + ")"
}

type Character string

func (Character) Kind() Kind { return KindCharacter }

// Encode quotes with ' when possible, with " when the string holds a ',
// and doubles the ' when it holds both quotes.
func (c Character) Encode() string {
	s := string(c)
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	default:
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}

type Logical bool

func (Logical) Kind() Kind { return KindLogical }
func (l Logical) Encode() string {
	if l {
		return ".TRUE."
	}
	return ".FALSE."
}

// Macro is a placeholder standing where a value is expected.
//
// It encodes as its bare name unless its block binds a value to it.
type Macro string

func (Macro) Kind() Kind       { return KindMacro }
func (m Macro) Encode() string { return string(m) }

const (
	kindParam = `(?:_(?:[A-Za-z]\w*|\d+))?`
	intBody   = `[+-]?\d+`
	realBody  = `[+-]?(?:(?:\d+\.\d*|\.\d+)(?:[EeDd][+-]?\d+)?|\d+[EeDd][+-]?\d+)`
	numBody   = `(?:` + realBody + `|` + intBody + `)` + kindParam
)

var (
	reInteger   = regexp.MustCompile(`^` + intBody + kindParam + `$`)
	reBoz       = regexp.MustCompile(`^([BbOoZz])(?:'([0-9A-Fa-f]+)'|"([0-9A-Fa-f]+)")$`)
	reReal      = regexp.MustCompile(`^` + realBody + kindParam + `$`)
	reComplex   = regexp.MustCompile(`^\(\s*(` + numBody + `)\s*,\s*(` + numBody + `)\s*\)$`)
	reCharacter = regexp.MustCompile(`^(?:(?:[A-Za-z]\w*|\d+)_)?(?:'(?:[^']|'')*'|"(?:[^"]|"")*")$`)
	reLogical   = regexp.MustCompile(`^(?i:\.(?:true|false|t|f)\.)` + kindParam + `$`)
)

func CheckInteger(s string) bool { return reInteger.MatchString(strings.TrimSpace(s)) }

func CheckBoz(s string) bool {
	_, err := ParseBoz(s)
	return err == nil
}

func CheckReal(s string) bool      { return reReal.MatchString(strings.TrimSpace(s)) }
func CheckComplex(s string) bool   { return reComplex.MatchString(strings.TrimSpace(s)) }
func CheckCharacter(s string) bool { return reCharacter.MatchString(strings.TrimSpace(s)) }
func CheckLogical(s string) bool   { return reLogical.MatchString(strings.TrimSpace(s)) }

func invalid(kind Kind, s string) error {
	return fmt.Errorf("%w: %q is not a valid %s", ErrInvalidLiteral, s, kind)
}

// stripKind removes a trailing `_KIND` parameter.
func stripKind(s string) string {
	if i := strings.LastIndexByte(s, '_'); 0 <= i {
		return s[:i]
	}
	return s
}

func ParseInteger(s string) (Integer, error) {
	s = strings.TrimSpace(s)
	if !reInteger.MatchString(s) {
		return 0, invalid(KindInteger, s)
	}
	i, err := strconv.ParseInt(stripKind(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidLiteral, err)
	}
	return Integer(i), nil
}

// ParseBoz reads B'...', O'...' or Z'...' forms.
func ParseBoz(s string) (Boz, error) {
	s = strings.TrimSpace(s)
	m := reBoz.FindStringSubmatch(s)
	if m == nil {
		return Boz{}, invalid(KindBoz, s)
	}
	digits := m[2] + m[3]
	base := 16
	switch strings.ToUpper(m[1]) {
	case "B":
		base = 2
	case "O":
		base = 8
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return Boz{}, invalid(KindBoz, s)
	}
	return Boz{Base: base, Value: int64(v)}, nil
}

// ParseReal reads a real literal. The exponent marker (D or E) is normalized
// before decimal conversion.
func ParseReal(s string) (Real, error) {
	s = strings.TrimSpace(s)
	if !reReal.MatchString(s) {
		return Real{}, invalid(KindReal, s)
	}
	d, err := toDecimal(stripKind(s))
	if err != nil {
		return Real{}, err
	}
	return Real{Value: d}, nil
}

func toDecimal(s string) (decimal.Decimal, error) {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "D", "E")

	mantissa, exponent, hasExp := strings.Cut(s, "E")
	sign := ""
	if strings.HasPrefix(mantissa, "+") || strings.HasPrefix(mantissa, "-") {
		sign, mantissa = mantissa[:1], mantissa[1:]
	}
	if strings.HasPrefix(mantissa, ".") {
		mantissa = "0" + mantissa
	}
	if strings.HasSuffix(mantissa, ".") {
		mantissa += "0"
	}
	norm := sign + mantissa
	if hasExp {
		norm += "E" + exponent
	}
	d, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %w", ErrInvalidLiteral, err)
	}
	return d, nil
}

func ParseComplex(s string) (Complex, error) {
	s = strings.TrimSpace(s)
	m := reComplex.FindStringSubmatch(s)
	if m == nil {
		return Complex{}, invalid(KindComplex, s)
	}
	re, err := toDecimal(stripKind(m[1]))
	if err != nil {
		return Complex{}, err
	}
	im, err := toDecimal(stripKind(m[2]))
	if err != nil {
		return Complex{}, err
	}
	return Complex{Re: re, Im: im}, nil
}

func ParseCharacter(s string) (Character, error) {
	s = strings.TrimSpace(s)
	if !reCharacter.MatchString(s) {
		return "", invalid(KindCharacter, s)
	}
	if i := strings.IndexAny(s, `'"`); 0 < i {
		s = s[i:]
	}
	q := s[:1]
	body := s[1 : len(s)-1]
	return Character(strings.ReplaceAll(body, q+q, q)), nil
}

func ParseLogical(s string) (Logical, error) {
	s = strings.TrimSpace(s)
	if !reLogical.MatchString(s) {
		return false, invalid(KindLogical, s)
	}
	body := strings.ToUpper(s)
	return Logical(strings.HasPrefix(body, ".T")), nil
}

// Parse tries the literal kinds in the order Integer, Boz, Real, Complex,
// Character, Logical and returns the first successful parse.
//
// BOZ literals are returned as Integer.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case CheckInteger(s):
		return ParseInteger(s)
	case CheckBoz(s):
		b, err := ParseBoz(s)
		if err != nil {
			return nil, err
		}
		return Integer(b.Value), nil
	case CheckReal(s):
		return ParseReal(s)
	case CheckComplex(s):
		return ParseComplex(s)
	case CheckCharacter(s):
		return ParseCharacter(s)
	case CheckLogical(s):
		return ParseLogical(s)
	}
	return nil, fmt.Errorf("%w: %q matches no literal form", ErrInvalidLiteral, s)
}

// Encode returns the FORTRAN form of a Value or of a Go native value.
//
// Natives map as: bool -> Logical, integers -> Integer, floats and
// decimal.Decimal -> Real, complex -> Complex, string -> Character.
func Encode(v any) (string, error) {
	switch x := v.(type) {
	case Value:
		return x.Encode(), nil
	case bool:
		return Logical(x).Encode(), nil
	case int:
		return Integer(x).Encode(), nil
	case int8:
		return Integer(x).Encode(), nil
	case int16:
		return Integer(x).Encode(), nil
	case int32:
		return Integer(x).Encode(), nil
	case int64:
		return Integer(x).Encode(), nil
	case uint8:
		return Integer(x).Encode(), nil
	case uint16:
		return Integer(x).Encode(), nil
	case uint32:
		return Integer(x).Encode(), nil
	case uint:
		if x > math.MaxInt64 {
			return "", fmt.Errorf("%w: %d overflows", ErrUnsupportedValue, x)
		}
		return Integer(x).Encode(), nil
	case uint64:
		if x > math.MaxInt64 {
			return "", fmt.Errorf("%w: %d overflows", ErrUnsupportedValue, x)
		}
		return Integer(x).Encode(), nil
	case float32:
		return encodeFloat(float64(x))
	case float64:
		return encodeFloat(x)
	case decimal.Decimal:
		return encodeReal(x), nil
	case *big.Int:
		return x.String(), nil
	case complex64:
		return Complex{Re: decimal.NewFromFloat32(real(x)), Im: decimal.NewFromFloat32(imag(x))}.Encode(), nil
	case complex128:
		if math.IsNaN(real(x)) || math.IsNaN(imag(x)) || math.IsInf(real(x), 0) || math.IsInf(imag(x), 0) {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, x)
		}
		return Complex{Re: decimal.NewFromFloat(real(x)), Im: decimal.NewFromFloat(imag(x))}.Encode(), nil
	case string:
		return Character(x).Encode(), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func encodeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	return encodeReal(decimal.NewFromFloat(f)), nil
}

var ten = decimal.NewFromInt(10)

// encodeReal writes d as `m.mmmD<exp>` with 1 <= m < 10 and at most
// Precision significant digits. Zero is written `0.`.
func encodeReal(d decimal.Decimal) string {
	if d.IsZero() {
		return "0."
	}
	sign := ""
	if d.Sign() < 0 {
		sign = "-"
		d = d.Neg()
	}

	e10 := len(d.Coefficient().String()) - 1 + int(d.Exponent())
	m := d.Shift(int32(-e10)).Round(Precision - 1)
	if m.GreaterThanOrEqual(ten) {
		m = m.Shift(-1)
		e10 += 1
	}
	s := m.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return sign + s + "D" + strconv.Itoa(e10)
}

// Equal compares two values by kind and content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case Real:
		y, ok := b.(Real)
		return ok && x.Value.Equal(y.Value)
	case Complex:
		y, ok := b.(Complex)
		return ok && x.Re.Equal(y.Re) && x.Im.Equal(y.Im)
	default:
		return a == b
	}
}
