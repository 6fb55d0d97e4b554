// Package scrub cleans attacker-controlled strings before they reach log
// output. User-Agent values and request paths from scrapers routinely carry
// control bytes, ANSI escape sequences and absurd lengths; scrubbed copies
// are safe to print on a terminal and bounded in size.
package scrub

import "strings"

const (
	maxHeaderLen = 256
	maxPathLen   = 512
)

// Header scrubs a header value (User-Agent, Referer) for logging.
func Header(s string) string {
	return clean(s, maxHeaderLen)
}

// Path scrubs a request path for logging.
func Path(s string) string {
	return clean(s, maxPathLen)
}

func clean(s string, max int) string {
	if s == "" {
		return s
	}

	dirty := false
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			dirty = true
			break
		}
	}

	if dirty {
		var b strings.Builder
		b.Grow(len(s))
		i := 0
		for i < len(s) {
			c := s[i]
			switch {
			case c == 0x1b:
				// Swallow a CSI sequence wholesale, mark the rest.
				i++
				if i < len(s) && s[i] == '[' {
					i++
					for i < len(s) && !isCSIFinal(s[i]) {
						i++
					}
					if i < len(s) {
						i++
					}
				}
				b.WriteString("\\e")
				continue
			case c == '\t', c == '\n', c == '\r':
				b.WriteByte(' ')
			case c < 0x20 || c == 0x7f:
				b.WriteByte('.')
			default:
				b.WriteByte(c)
			}
			i++
		}
		s = b.String()
	}

	if max > 0 && len(s) > max {
		if max > 3 {
			return s[:max-3] + "..."
		}
		return s[:max]
	}
	return s
}

func isCSIFinal(c byte) bool {
	return c >= 0x40 && c <= 0x7e
}
