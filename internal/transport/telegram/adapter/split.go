package adapter

import (
	"strings"
	"unicode/utf8"
)

const telegramTextLimit = 4000

// splitTelegramText packs whole lines into chunks of at most limit runes.
// A single line longer than limit is cut hard, and in HTML mode the cut is
// moved back so it never lands inside a tag. Blank lines at a chunk
// boundary are dropped. At least one chunk is returned.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		out  []string
		cur  []string
		size int
	)
	flush := func() {
		if text := strings.TrimRight(strings.Join(cur, "\n"), "\n"); text != "" {
			out = append(out, text)
		}
		cur, size = cur[:0], 0
	}
	for _, line := range strings.Split(s, "\n") {
		n := utf8.RuneCountInString(line)
		if len(cur) > 0 && size+1+n > limit {
			flush()
		}
		if len(cur) == 0 && n == 0 {
			continue
		}
		if n > limit {
			pieces := hardCut([]rune(line), limit, html)
			out = append(out, pieces[:len(pieces)-1]...)
			line = pieces[len(pieces)-1]
			n = utf8.RuneCountInString(line)
		}
		if len(cur) > 0 {
			size++
		}
		cur = append(cur, line)
		size += n
	}
	flush()
	if len(out) == 0 {
		return []string{s}
	}
	return out
}

func hardCut(rs []rune, limit int, html bool) []string {
	var out []string
	for len(rs) > limit {
		end := limit
		if html {
			if open := lastUnclosedTag(rs[:end]); open > 0 {
				end = open
			}
		}
		out = append(out, string(rs[:end]))
		rs = rs[end:]
	}
	return append(out, string(rs))
}

// lastUnclosedTag returns the index of a '<' not followed by '>' in rs, or -1.
func lastUnclosedTag(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		switch rs[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}
