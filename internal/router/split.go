package router

import (
	"strings"
	"unicode/utf8"
)

// Split breaks text into chunks of at most limit runes for transports with a
// message size cap. Chunks break at line boundaries; a line longer than
// limit is hard-split.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	curLen, open := 0, false
	flush := func() {
		if open {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen, open = 0, false
		}
	}
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if open && curLen+1+n <= limit {
			cur.WriteByte('\n')
			cur.WriteString(line)
			curLen += 1 + n
			continue
		}
		flush()
		split := n > limit
		for n > limit {
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
			n -= limit
		}
		if split && n == 0 {
			continue
		}
		cur.WriteString(line)
		curLen, open = n, true
	}
	flush()
	return chunks
}
