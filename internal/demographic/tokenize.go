// Package demographic turns table-name keys into canonical indicator identities.
//
// A key such as "female_german_east" names the sub-population a table was
// computed for. Tokenize splits the key into alias tokens and a Resolver maps
// each alias to an Identity (indicator code plus group code).
package demographic

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins alias tokens inside a table key.
const Separator = "_"

// ErrParse is returned (wrapped in *ParseError) when a key yields no tokens.
var ErrParse = errors.New("demographic: key does not match any token shape")

// ParseError reports the key that could not be tokenized.
type ParseError struct {
	Key string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("demographic: cannot tokenize key %q", e.Key)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Tokenize splits a table key into an ordered tuple of 1 to 3 alias tokens.
//
// Shapes are tried most specific first:
//   - exactly three non-empty segments -> three tokens
//   - exactly two non-empty segments -> two tokens
//   - otherwise the whole key is a single token
//
// A key is never partially split: "a_b_c_d" and "a__b" both come back as one
// token equal to the key. Surrounding whitespace is ignored.
//
// Errors:
//   - *ParseError (matching ErrParse) when the key is empty or blank.
func Tokenize(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &ParseError{Key: key}
	}

	parts := strings.Split(key, Separator)
	if (len(parts) == 3 || len(parts) == 2) && allNonEmpty(parts) {
		return parts, nil
	}
	return []string{key}, nil
}

func allNonEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
