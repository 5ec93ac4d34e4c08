package generate

import (
	"strings"

	"github.com/ohler55/ojg/jp"
)

// JSONPath expressions for the request body fields the token accounting
// reads. Bodies are parsed once by RequestContext.JSONBody.
var (
	maxTokensPath  = jp.MustParseString("$.max_tokens")
	dimensionsPath = jp.MustParseString("$.dimensions")
	promptPath     = jp.MustParseString("$.prompt")
	inputPath      = jp.MustParseString("$.input")
	messagesPath   = jp.MustParseString("$.messages[*].content")
	partsTextPath  = jp.MustParseString("$.messages[*].content[*].text")
)

// intFromBody extracts the first integer value the expression finds.
func intFromBody(expr jp.Expr, doc any) int {
	if doc == nil {
		return 0
	}
	for _, v := range expr.Get(doc) {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int64:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}

// promptText collects the request's prompt-bearing text: chat message
// contents (plain strings and text parts), the completions prompt and the
// embeddings input. String arrays are concatenated.
func promptText(doc any) string {
	if doc == nil {
		return ""
	}

	var b strings.Builder
	appendValues := func(values []any) {
		for _, v := range values {
			switch t := v.(type) {
			case string:
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			case []any:
				for _, item := range t {
					if s, ok := item.(string); ok {
						if b.Len() > 0 {
							b.WriteByte(' ')
						}
						b.WriteString(s)
					}
				}
			}
		}
	}

	appendValues(messagesPath.Get(doc))
	appendValues(partsTextPath.Get(doc))
	appendValues(promptPath.Get(doc))
	appendValues(inputPath.Get(doc))
	return b.String()
}

// estimateTokens approximates a token count as one token per four
// characters, the usual rule of thumb for English text. Non-empty text
// costs at least one token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
