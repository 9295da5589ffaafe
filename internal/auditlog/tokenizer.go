package auditlog

import "strings"

// TimestampKey is the synthetic token holding the first segment of a line.
const TimestampKey = "timestamp"

// Tokens maps field names to values for a single log line.
type Tokens map[string]string

// Get returns the value for key, or "" when the key is absent.
func (t Tokens) Get(key string) string {
	return t[key]
}

type scanState int

const (
	seekingKey scanState = iota
	accumulatingValue
)

// Tokenize splits a raw log line into key/value tokens.
//
// The line is split on single spaces. A segment containing "=" starts a new
// token; following segments without "=" are appended to its value, so values
// may span several words. One trailing comma is stripped from each value.
// The first segment is always stored under TimestampKey.
func Tokenize(line string) Tokens {
	segments := strings.Split(line, " ")
	tokens := make(Tokens)

	state := seekingKey
	var key string
	var value strings.Builder

	flush := func() {
		tokens[key] = strings.TrimSuffix(value.String(), ",")
		value.Reset()
	}

	for _, seg := range segments {
		hasEq := strings.Contains(seg, "=")
		switch state {
		case seekingKey:
			if !hasEq {
				continue
			}
		case accumulatingValue:
			if !hasEq {
				value.WriteByte(' ')
				value.WriteString(seg)
				continue
			}
			flush()
		}
		k, v, _ := strings.Cut(seg, "=")
		key = k
		value.WriteString(v)
		state = accumulatingValue
	}
	if state == accumulatingValue {
		flush()
	}

	tokens[TimestampKey] = segments[0]
	return tokens
}
