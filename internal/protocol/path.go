package protocol

import "strings"

// Path segments travel inside URI paths joined by '/'. The escape character
// '!' protects both '!' and '/' inside a segment, so object-name property
// values and inner paths survive the trip bit-exactly. This is a wire
// contract shared with every client.

// SplitPath decodes an escaped path string into its segments. Empty input
// yields a nil path; empty segments between slashes are preserved.
func SplitPath(s string) []string {
	if s == "" {
		return nil
	}
	var (
		segs []string
		cur  strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '!':
			if i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			} else {
				cur.WriteByte('!')
			}
		case '/':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	segs = append(segs, cur.String())
	return segs
}

// JoinPath encodes segments into the escaped wire form.
func JoinPath(segs []string) string {
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(EscapeSegment(seg))
	}
	return b.String()
}

// EscapeSegment protects '!' and '/' inside a single segment.
func EscapeSegment(seg string) string {
	if !strings.ContainsAny(seg, "!/") {
		return seg
	}
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		if seg[i] == '!' || seg[i] == '/' {
			b.WriteByte('!')
		}
		b.WriteByte(seg[i])
	}
	return b.String()
}
