package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var reqSeq atomic.Uint64

// newReqID is unique per process and short enough to grep for in logs.
func newReqID() string {
	return strconv.FormatInt(time.Now().Unix(), 36) + "." +
		strconv.FormatUint(reqSeq.Add(1), 36) +
		strconv.FormatUint(uint64(rand.IntN(36*36)), 36)
}

// quoteClose maps an opening quote to the rune that ends it. Phones
// autocorrect to typographic quotes, so those count too.
var quoteClose = map[rune]rune{'"': '"', '“': '”', '”': '”'}

// tokenizeCommandLine splits on whitespace, keeping quoted runs together
// and honoring backslash escapes, so multi-word names survive:
//
//	/cadastrar "Meu Canal" @meucanal
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		tok     strings.Builder
		closing rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			tok.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case closing != 0:
			if r == closing {
				closing = 0
			} else {
				tok.WriteRune(r)
			}
		case quoteClose[r] != 0:
			closing = quoteClose[r]
		case unicode.IsSpace(r):
			if tok.Len() > 0 {
				out = append(out, tok.String())
				tok.Reset()
			}
		default:
			tok.WriteRune(r)
		}
	}
	if tok.Len() > 0 {
		out = append(out, tok.String())
	}
	return out
}

// commandWord turns "/Lista@SomeBot" into "lista".
func commandWord(tok string) string {
	w, _, _ := strings.Cut(strings.TrimPrefix(tok, "/"), "@")
	return strings.ToLower(w)
}
