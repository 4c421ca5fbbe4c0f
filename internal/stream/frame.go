// Package stream normalizes raw upstream SSE fragments into frames and
// splits the text they carry into visible and thinking parts.
package stream

import "strings"

const (
	dataMarker = "data:"
	doneToken  = "[DONE]"
)

type FrameKind int

const (
	FramePayload FrameKind = iota
	FrameDone
)

// Frame is one self-contained event of the downstream protocol.
type Frame struct {
	Kind    FrameKind
	Payload string
}

func PayloadFrame(payload string) Frame { return Frame{Kind: FramePayload, Payload: payload} }

func DoneFrame() Frame { return Frame{Kind: FrameDone, Payload: doneToken} }

// String renders the frame on the wire, blank line included. A payload with
// embedded newlines is written as several data lines, which SSE clients
// join back together.
func (f Frame) String() string {
	if f.Kind == FrameDone {
		return "data: " + doneToken + "\n\n"
	}
	if !strings.Contains(f.Payload, "\n") {
		return "data: " + f.Payload + "\n\n"
	}
	var b strings.Builder
	for _, line := range strings.Split(f.Payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// SessionFrame is the first event of every chat stream.
func SessionFrame(sessionID string) string {
	return "data: SESSION_ID:" + sessionID + "\n\n"
}
