// Package naming normalizes raw column labels into warehouse-safe identifiers.
//
// Two conventions are supported:
//
//	space: "First Name"  -> "first_name"
//	camel: "firstName"   -> "first_name"
//
// Labels that would start with anything other than a lowercase letter or an
// underscore (leading digit, symbol, upper-case non-ASCII letter) are prefixed
// with "_" because most warehouses reject such identifiers.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Mode selects the label convention of the source.
type Mode int

const (
	// Space treats any non-word character as a separator.
	Space Mode = iota
	// Camel splits on upper-case humps.
	Camel
)

// String returns the config spelling of m.
func (m Mode) String() string {
	switch m {
	case Space:
		return "space"
	case Camel:
		return "camel"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config value onto a Mode. The empty string means Space.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "space":
		return Space, nil
	case "camel":
		return Camel, nil
	default:
		return 0, fmt.Errorf("naming: unknown rename mode %q (want space or camel)", s)
	}
}

var (
	wordRe    = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	humpRe    = regexp.MustCompile(`[A-Za-z0-9][a-z0-9]+`)
	escapedRe = regexp.MustCompile(`^[^a-z_]`)
)

// Normalize converts every name according to mode and escapes names the
// sink would reject. Empty names stay empty. The only error is an
// unsupported mode.
func Normalize(names []string, mode Mode) ([]string, error) {
	var conv func(string) string
	switch mode {
	case Space:
		conv = spaceToSnake
	case Camel:
		conv = camelToSnake
	default:
		return nil, fmt.Errorf("naming: unsupported mode %v", mode)
	}

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = escape(conv(n))
	}
	return out, nil
}

// FoldASCII strips diacritics from every name ("Café" -> "Cafe").
func FoldASCII(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		folded, _, err := transform.String(t, n)
		if err != nil {
			folded = n
		}
		out[i] = folded
	}
	return out
}

func spaceToSnake(s string) string {
	return lower(strings.Join(wordRe.FindAllString(s, -1), "_"))
}

func camelToSnake(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	return lower(strings.Join(humpRe.FindAllString(s, -1), "_"))
}

func escape(s string) string {
	if escapedRe.MatchString(s) {
		return "_" + s
	}
	return s
}

func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}
