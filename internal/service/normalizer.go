package service

import (
	"strings"
	"unicode"
)

// NormalizerOptions shape how raw phone numbers are canonicalized.
type NormalizerOptions struct {
	// DefaultCountryCode replaces a single leading 0 (national format) when set.
	// A leading 00 international prefix is always dropped.
	DefaultCountryCode string
	MinDigits          int
	MaxDigits          int
}

func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{MinDigits: 7, MaxDigits: 15}
}

// Normalized is the usable subset of a recipient list.
type Normalized struct {
	Recipients []string
	Rejected   int
}

// Normalize strips formatting noise, drops malformed numbers and removes duplicates,
// keeping first-seen order.
func Normalize(raw []string, opts NormalizerOptions) Normalized {
	if opts.MinDigits <= 0 {
		opts.MinDigits = 7
	}
	if opts.MaxDigits <= 0 {
		opts.MaxDigits = 15
	}
	cc := strings.TrimLeft(strings.TrimSpace(opts.DefaultCountryCode), "+")

	out := Normalized{Recipients: make([]string, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		n, ok := canonical(r, cc, opts.MinDigits, opts.MaxDigits)
		if !ok {
			out.Rejected++
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out.Recipients = append(out.Recipients, n)
	}
	return out
}

func canonical(raw, countryCode string, minDigits, maxDigits int) (string, bool) {
	var b strings.Builder
	for _, c := range raw {
		switch {
		case unicode.IsSpace(c):
		case strings.ContainsRune("+-()./", c):
		default:
			b.WriteRune(c)
		}
	}
	s := b.String()
	if s == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(s, "00"):
		s = s[2:]
	case countryCode != "" && strings.HasPrefix(s, "0"):
		s = countryCode + s[1:]
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	if len(s) < minDigits || len(s) > maxDigits {
		return "", false
	}
	return s, true
}
