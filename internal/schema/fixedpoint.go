package schema

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
)

var (
	ErrBadDecimal = errors.New("malformed decimal string")
	ErrBadScale   = errors.New("scale out of range")
)

// ParseFixedPoint parses a decimal string (e.g. "123.45") into an integer
// scaled by 10^scale, without going through float64.
func ParseFixedPoint(s string, scale Scale) (int64, error) {
	if scale < 0 || scale > 18 {
		return 0, ErrBadScale
	}
	intPart, fracPart, found := strings.Cut(s, ".")
	if found && strings.Contains(fracPart, ".") {
		return 0, ErrBadDecimal
	}

	sign := int64(1)
	if strings.HasPrefix(intPart, "-") {
		sign = -1
		intPart = intPart[1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, ErrBadDecimal
	}
	// Only digits past the single leading sign; ParseInt alone would
	// accept a second sign and cancel or flip it.
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, ErrBadDecimal
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse integer part")
		}
		intVal = v
	}

	decimals := int(scale)
	if len(fracPart) > decimals {
		// Extra precision is truncated toward zero.
		fracPart = fracPart[:decimals]
	}
	for len(fracPart) < decimals {
		fracPart += "0"
	}

	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse fractional part")
		}
		fracVal = v
	}

	multiplier := int64(1)
	for i := 0; i < decimals; i++ {
		multiplier *= 10
	}
	return sign * (intVal*multiplier + fracVal), nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// AppendFixedPoint formats a scaled integer as a decimal string, appending
// to buf. Trailing fractional zeros are kept so wire output is stable.
func AppendFixedPoint(buf []byte, v int64, scale Scale) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, v, 10)
	}
	if v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	multiplier := int64(1)
	for i := Scale(0); i < scale; i++ {
		multiplier *= 10
	}
	buf = strconv.AppendInt(buf, v/multiplier, 10)
	buf = append(buf, '.')
	frac := strconv.FormatInt(v%multiplier, 10)
	for i := len(frac); i < int(scale); i++ {
		buf = append(buf, '0')
	}
	return append(buf, frac...)
}

// FormatFixedPoint is AppendFixedPoint into a fresh string.
func FormatFixedPoint(v int64, scale Scale) string {
	return string(AppendFixedPoint(make([]byte, 0, 24), v, scale))
}

// ParsePrice parses a decimal price string at the given scale.
func ParsePrice(s string, scale Scale) (Price, error) {
	v, err := ParseFixedPoint(s, scale)
	return Price(v), err
}

// ParseQuantity parses a decimal quantity string at the given scale.
func ParseQuantity(s string, scale Scale) (Quantity, error) {
	v, err := ParseFixedPoint(s, scale)
	return Quantity(v), err
}
