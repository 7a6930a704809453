package tson

import "unicode/utf8"

const replacementChar = 0xFFFD

// appendRune appends the UTF-8 encoding of r. Surrogates and values outside
// the Unicode range become U+FFFD.
func appendRune(dst []byte, r rune) []byte {
	switch {
	case r < 0 || r > 0x10FFFF || (r >= 0xD800 && r <= 0xDFFF):
		return append(dst, 0xEF, 0xBF, 0xBD)
	case r < 0x80:
		return append(dst, byte(r))
	case r < 0x800:
		return append(dst, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
	case r < 0x10000:
		return append(dst, 0xE0|byte(r>>12), 0x80|byte(r>>6&0x3F), 0x80|byte(r&0x3F))
	default:
		return append(dst, 0xF0|byte(r>>18), 0x80|byte(r>>12&0x3F), 0x80|byte(r>>6&0x3F), 0x80|byte(r&0x3F))
	}
}

// encodeUTF16 converts UTF-16 code units to UTF-8. Unpaired surrogates
// become U+FFFD.
func encodeUTF16(units []uint16) []byte {
	out := make([]byte, 0, len(units)*3)
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+1 < len(units) {
				if lo := rune(units[i+1]); lo >= 0xDC00 && lo <= 0xDFFF {
					out = appendRune(out, 0x10000+(u-0xD800)<<10+(lo-0xDC00))
					i++
					continue
				}
			}
			out = appendRune(out, replacementChar)
		default:
			// Lone low surrogates are replaced by appendRune.
			out = appendRune(out, u)
		}
	}
	return out
}

// sanitizeUTF8 returns b unchanged when it is valid UTF-8. Otherwise each
// maximal ill-formed subsequence is replaced by a single U+FFFD, the way
// WHATWG decoders do, so encoded surrogate halves (ED A0..BF xx) turn into
// replacement characters.
func sanitizeUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	out := make([]byte, 0, len(b)+8)
	var (
		cp     rune
		needed int
		seen   int
		lower  byte = 0x80
		upper  byte = 0xBF
	)
	for i := 0; i < len(b); i++ {
		c := b[i]
		if needed == 0 {
			switch {
			case c <= 0x7F:
				out = append(out, c)
			case c >= 0xC2 && c <= 0xDF:
				needed, cp = 1, rune(c&0x1F)
			case c >= 0xE0 && c <= 0xEF:
				if c == 0xE0 {
					lower = 0xA0
				} else if c == 0xED {
					upper = 0x9F
				}
				needed, cp = 2, rune(c&0x0F)
			case c >= 0xF0 && c <= 0xF4:
				if c == 0xF0 {
					lower = 0x90
				} else if c == 0xF4 {
					upper = 0x8F
				}
				needed, cp = 3, rune(c&0x07)
			default:
				out = appendRune(out, replacementChar)
			}
			continue
		}
		if c < lower || c > upper {
			cp, needed, seen = 0, 0, 0
			lower, upper = 0x80, 0xBF
			out = appendRune(out, replacementChar)
			i-- // reprocess c as the start of a new sequence
			continue
		}
		lower, upper = 0x80, 0xBF
		cp = cp<<6 | rune(c&0x3F)
		seen++
		if seen == needed {
			out = appendRune(out, cp)
			cp, needed, seen = 0, 0, 0
		}
	}
	if needed != 0 {
		out = appendRune(out, replacementChar)
	}
	return out
}

// decodeUTF8 converts wire bytes into a Go string, replacing ill-formed
// sequences with U+FFFD.
func decodeUTF8(b []byte) string {
	return string(sanitizeUTF8(b))
}
