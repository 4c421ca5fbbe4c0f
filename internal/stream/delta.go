package stream

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	contentPath   = "choices.0.delta.content"
	reasoningPath = "choices.0.delta.reasoning"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrProviderError    = errors.New("provider error")
)

// DeltaKind separates "nothing to extract" from "could not parse".
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaEmpty
	DeltaMalformed
)

type Delta struct {
	Kind DeltaKind
	Text string
	// Path is the JSON path Text was read from.
	Path string
	// TotalTokens is the provider usage figure when the payload carries one.
	TotalTokens int
	Err         error
}

// ExtractDelta reads the text delta of one payload: the content field first,
// then the reasoning field. Role-only payloads are DeltaEmpty.
func ExtractDelta(payload string) Delta {
	if !gjson.Valid(payload) {
		return Delta{Kind: DeltaMalformed, Err: ErrMalformedPayload}
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return Delta{Kind: DeltaMalformed, Err: fmt.Errorf("%w: not an object", ErrMalformedPayload)}
	}
	if e := root.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return Delta{Kind: DeltaMalformed, Err: fmt.Errorf("%w: %s", ErrProviderError, msg)}
	}

	tokens := usageTokens(root)
	for _, path := range []string{contentPath, reasoningPath} {
		if v := root.Get(path); v.Type == gjson.String && v.Str != "" {
			return Delta{Kind: DeltaText, Text: v.Str, Path: path, TotalTokens: tokens}
		}
	}
	return Delta{Kind: DeltaEmpty, TotalTokens: tokens}
}

func usageTokens(root gjson.Result) int {
	for _, path := range []string{"usage.total_tokens", "x_groq.usage.total_tokens"} {
		if v := root.Get(path); v.Exists() {
			return int(v.Int())
		}
	}
	return 0
}
