// Package tokenest provides a rough, fast prompt token estimate that the
// frontend stores in Request.TokenEstimate ahead of dispatch, without
// requiring a live call to an upstream tokenizer. Neither the router's
// scoring nor the quota tracker reads the estimate.
package tokenest

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
)

// defaultEncoding is a widely-compatible BPE encoding used as a stand-in
// across every upstream; exact per-model tokenizers differ, but only an
// estimate is needed, not a billing-grade count.
const defaultEncoding = "cl100k_base"

// charsPerTokenFallback is used if the tiktoken encoding can't be loaded
// (e.g. no network access to fetch its vocabulary file), so estimation
// degrades gracefully instead of failing requests.
const charsPerTokenFallback = 4

// Estimator estimates token counts for a list of chat messages.
type Estimator struct {
	enc     *tiktoken.Tiktoken
	initErr error
	once    sync.Once
}

func New() *Estimator {
	return &Estimator{}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			e.initErr = err
			return
		}
		e.enc = enc
	})
}

// EstimatePrompt sums a rough per-message overhead (role + formatting
// tokens, per OpenAI's chat format) plus the content token count for every
// message.
func (e *Estimator) EstimatePrompt(messages []gwtypes.Message) int {
	e.init()
	total := 0
	for _, m := range messages {
		total += 4 // role/name/formatting overhead per message
		total += e.count(m.Content)
	}
	total += 2 // reply priming
	return total
}

func (e *Estimator) count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(strings.TrimSpace(text)) + charsPerTokenFallback - 1) / charsPerTokenFallback
}
