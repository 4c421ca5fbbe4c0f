package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Normalize turns one raw upstream fragment into zero or more frames, in
// order. It never returns an empty frame.
//
// A fragment may carry several coalesced events; it is cut at every data
// marker that starts a line or directly follows a complete JSON payload, and
// each piece is normalized on its own. Payloads always come out on one line.
func Normalize(fragment string) []Frame {
	var out []Frame
	for _, piece := range splitAtMarkers(fragment) {
		if f, ok := normalizeOne(piece); ok {
			out = append(out, f)
		}
	}
	return out
}

func normalizeOne(piece string) (Frame, bool) {
	s := strings.TrimSpace(piece)
	if s == "" {
		return Frame{}, false
	}

	if payload, ok := strings.CutPrefix(s, dataMarker); ok {
		payload = strings.TrimSpace(payload)
		switch payload {
		case "":
			// keep-alive
			return Frame{}, false
		case doneToken:
			return DoneFrame(), true
		}
		return PayloadFrame(singleLine(payload)), true
	}

	if s == doneToken {
		return DoneFrame(), true
	}
	if controlOnly(s) {
		return Frame{}, false
	}
	// raw JSON object or anything else: wrap as is
	return PayloadFrame(singleLine(s)), true
}

// singleLine compacts multi-line JSON and escapes line breaks in anything
// else, so the rendered frame is a single data line.
func singleLine(payload string) string {
	if !strings.ContainsAny(payload, "\r\n") {
		return payload
	}
	if gjson.Valid(payload) {
		return gjson.Get(payload, "@ugly").Raw
	}
	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	payload = strings.ReplaceAll(payload, "\r", "\n")
	return strings.ReplaceAll(payload, "\n", `\n`)
}

// splitAtMarkers cuts s before every marker occurrence that is a real event
// boundary. Text ahead of the first boundary is kept as its own piece.
func splitAtMarkers(s string) []string {
	var pieces []string
	start := 0
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], dataMarker)
		if i < 0 {
			break
		}
		pos := from + i
		if pos > start && isBoundary(s[start:pos]) {
			pieces = append(pieces, s[start:pos])
			start = pos
		}
		from = pos + len(dataMarker)
	}
	return append(pieces, s[start:])
}

// isBoundary reports whether a marker right after prev starts a new event.
// A marker after '}' or ']' only counts when prev holds a complete JSON
// payload; otherwise the brace is text inside a string.
func isBoundary(prev string) bool {
	trimmed := strings.TrimRight(prev, " \t\r")
	if trimmed == "" {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '\n':
		return true
	case '}', ']':
		payload := strings.TrimSpace(trimmed)
		if p, ok := strings.CutPrefix(payload, dataMarker); ok {
			payload = strings.TrimSpace(p)
		}
		return gjson.Valid(payload)
	}
	return false
}

// controlOnly reports whether every line is an SSE comment or a non-data
// field (event:, id:, retry:).
func controlOnly(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "",
			strings.HasPrefix(line, ":"),
			strings.HasPrefix(line, "event:"),
			strings.HasPrefix(line, "id:"),
			strings.HasPrefix(line, "retry:"):
			continue
		default:
			return false
		}
	}
	return true
}
