// Package tokencount estimates prompt token counts ahead of dispatch, for
// computing a model's effective max_tokens default when the client didn't
// specify one.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/plexus/gateway/unified"
)

// fallbackModel anchors the encoding used for models tiktoken-go has no
// dedicated mapping for (Anthropic, Gemini, and any third-party model
// slug); cl100k_base (gpt-3.5-turbo's encoding) is close enough for a
// pre-flight estimate, not billing.
const fallbackModel = "gpt-3.5-turbo"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	once.Do(func() {
		e, err := tiktoken.EncodingForModel(fallbackModel)
		if err != nil {
			panic("load tiktoken encoding: " + err.Error())
		}
		enc = e
	})
	return enc
}

// CountMessages estimates the prompt token count for req's messages and
// system content, for sizing a default max_tokens when the request omits
// one. This is an estimate, not the authoritative count the upstream
// provider bills against.
func CountMessages(req *unified.Request) int {
	e := encoder()
	total := 0
	for _, m := range req.Messages {
		total += len(e.Encode(m.Content, nil, nil))
		for _, p := range m.Parts {
			if p.Type == unified.PartText {
				total += len(e.Encode(p.Text, nil, nil))
			}
		}
		if m.Thinking != nil {
			total += len(e.Encode(m.Thinking.Content, nil, nil))
		}
		total += 4 // per-message role/formatting overhead, tiktoken chat convention
	}
	return total
}

// DefaultMaxTokens computes a conservative max_tokens default for a model
// with context window contextWindow, leaving at least minCompletion room
// for the reply after subtracting the estimated prompt size.
func DefaultMaxTokens(req *unified.Request, contextWindow, minCompletion int) int {
	remaining := contextWindow - CountMessages(req)
	if remaining < minCompletion {
		return minCompletion
	}
	return remaining
}
