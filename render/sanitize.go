package render

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// uriTagSchemes are the schemes whose <scheme://...> form survives
// sanitization with its angle brackets intact.
var uriTagSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"xmpp":  true,
	"ftp":   true,
}

// skipContent lists elements whose content is dropped along with the tags.
var skipContent = map[string]bool{
	"script":    true,
	"style":     true,
	"iframe":    true,
	"object":    true,
	"noscript":  true,
	"noembed":   true,
	"noframes":  true,
	"template":  true,
	"textarea":  true,
	"title":     true,
	"xmp":       true,
	"plaintext": true,
}

// Sanitize strips all markup from raw and decodes character entities, so
// the result is plain text. A tag that exactly wraps a bare URI, such as
// <https://example.com>, is kept verbatim.
func Sanitize(raw string) string {
	out, _ := sanitize(raw)
	return out
}

// sanitize is Sanitize that also returns, for every rune of raw, the rune
// index it occupies in the output, or -1 when it was removed.
func sanitize(raw string) (string, []int) {
	var (
		b      strings.Builder
		offset = make([]int, 0, len(raw))
		outLen int
		skip   string
	)

	keep := func(tok string) {
		for range tok {
			offset = append(offset, outLen)
			outLen++
		}
		b.WriteString(tok)
	}
	drop := func(tok string) {
		for range tok {
			offset = append(offset, -1)
		}
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := string(z.Raw())

		switch tt {
		case html.TextToken:
			if skip != "" {
				drop(tok)
				continue
			}
			if !strings.Contains(tok, "&") {
				keep(tok)
				continue
			}
			var text string
			text, outLen = decodeEntities(tok, outLen, &offset)
			b.WriteString(text)

		case html.StartTagToken, html.SelfClosingTagToken:
			if skip == "" && isURITag(tok) {
				keep(tok)
				continue
			}
			drop(tok)
			if tt == html.StartTagToken && skip == "" {
				name, _ := z.TagName()
				if skipContent[string(name)] {
					skip = string(name)
				}
			}

		case html.EndTagToken:
			drop(tok)
			if name, _ := z.TagName(); skip != "" && string(name) == skip {
				skip = ""
			}

		default:
			drop(tok)
		}
	}

	// Bytes swallowed by an unterminated tag at the end are removed.
	for n := runeLen(raw); len(offset) < n; {
		offset = append(offset, -1)
	}
	return b.String(), offset
}

// decodeEntities decodes the character references of a raw text token one
// at a time. The first rune of a reference maps to the first rune it decodes
// to and the rest of the reference is marked removed. Every other rune maps
// one to one.
func decodeEntities(raw string, outLen int, offset *[]int) (string, int) {
	var b strings.Builder
	for i := 0; i < len(raw); {
		if raw[i] == '&' {
			if ref, dec := entityAt(raw[i:]); ref != "" {
				// References are ASCII, so bytes and runes coincide.
				for k := 0; k < len(ref); k++ {
					if k == 0 && dec != "" {
						*offset = append(*offset, outLen)
					} else {
						*offset = append(*offset, -1)
					}
				}
				b.WriteString(dec)
				outLen += runeLen(dec)
				i += len(ref)
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(raw[i:])
		*offset = append(*offset, outLen)
		outLen++
		b.WriteString(raw[i : i+size])
		i += size
	}
	return b.String(), outLen
}

// maxEntityLen bounds the scan for a reference name; the longest named
// reference is 33 bytes including "&" and ";".
const maxEntityLen = 40

// entityAt returns the character reference at the start of s, which begins
// with "&", and its decoded text. ref is empty when s does not start with a
// reference.
func entityAt(s string) (ref, dec string) {
	end := 1
	if end < len(s) && s[end] == '#' {
		end++
		if end < len(s) && (s[end] == 'x' || s[end] == 'X') {
			end++
		}
	}
	for end < len(s) && end < maxEntityLen && isAlnum(s[end]) {
		end++
	}
	if end < len(s) && s[end] == ';' {
		end++
	}
	cand := s[:end]
	dec = html.UnescapeString(cand)
	if dec == cand {
		return "", ""
	}
	// Legacy references without ";" like "&ampfoo" decode only a prefix of
	// cand; the undecoded tail is left for the caller.
	k := commonSuffix(cand, dec)
	return cand[:len(cand)-k], dec[:len(dec)-k]
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// isURITag reports whether tok, a raw tag such as "<https://example.com>",
// wraps nothing but a URI with one of the permitted schemes.
func isURITag(tok string) bool {
	if len(tok) < 2 || tok[0] != '<' || tok[len(tok)-1] != '>' {
		return false
	}
	content := tok[1 : len(tok)-1]
	if strings.HasPrefix(content, "/") || strings.ContainsAny(content, "<> \t\r\n\f") {
		return false
	}
	u, err := url.Parse(content)
	if err != nil {
		return false
	}
	if !uriTagSchemes[u.Scheme] || !strings.HasPrefix(content, u.Scheme+"://") {
		return false
	}
	return u.String() == content
}

// mapSpans translates mention spans over raw text into spans over the
// sanitized text. Spans whose runes did not survive unchanged are dropped.
func mapSpans(raw, clean []rune, offset []int, refs []MentionSpan) []MentionSpan {
	out := make([]MentionSpan, 0, len(refs))
	for _, ref := range refs {
		if ref.Begin < 0 || ref.End > len(raw) || ref.Begin >= ref.End || ref.End > len(offset) {
			continue
		}
		b, e := offset[ref.Begin], offset[ref.End-1]
		if b < 0 || e < 0 {
			continue
		}
		e++
		if e-b != ref.End-ref.Begin || string(clean[b:e]) != string(raw[ref.Begin:ref.End]) {
			continue
		}
		out = append(out, MentionSpan{Begin: b, End: e, URI: ref.URI})
	}
	return out
}
