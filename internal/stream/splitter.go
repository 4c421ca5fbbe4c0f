package stream

import (
	"strings"

	"github.com/tidwall/sjson"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

type StepKind int

const (
	// StepForward: send Step.Frame to the client.
	StepForward StepKind = iota
	// StepSkip: the frame carried nothing the client should see.
	StepSkip
	// StepDrop: the frame could not be parsed; Step.Err says why.
	StepDrop
	// StepDone: upstream sent the terminal marker.
	StepDone
)

type Step struct {
	Kind  StepKind
	Frame Frame
	// Visible is the client-visible text carried by Frame, if any. It is
	// not part of the accumulated reply until Commit is called.
	Visible string
	Err     error
}

// State is the per-stream accumulator. One relay call owns it; it is not
// safe for concurrent use and does not need to be.
type State struct {
	SessionID string
	UserID    uint64
	Model     string

	visible    strings.Builder
	thinking   strings.Builder
	inThinking bool
	// tail of the last text that may be the start of a tag
	pending string

	totalTokens int
	done        bool
	dropped     int

	// Err is set when the upstream failed mid-stream.
	Err error
	// Cancelled is set when the client went away.
	Cancelled bool
}

func NewState(sessionID string, userID uint64, model string) *State {
	return &State{SessionID: sessionID, UserID: userID, Model: model}
}

// Process consumes one normalized frame. Frames after the terminal marker
// are skipped.
func (s *State) Process(f Frame) Step {
	if s.done {
		return Step{Kind: StepSkip}
	}
	if f.Kind == FrameDone {
		s.done = true
		return Step{Kind: StepDone, Frame: f}
	}

	d := ExtractDelta(f.Payload)
	if d.TotalTokens > 0 {
		s.totalTokens = d.TotalTokens
	}
	switch d.Kind {
	case DeltaMalformed:
		s.dropped++
		return Step{Kind: StepDrop, Err: d.Err}
	case DeltaEmpty:
		return Step{Kind: StepForward, Frame: f}
	}

	visible := s.split(d.Text)
	if visible == "" {
		return Step{Kind: StepSkip}
	}
	if visible == d.Text {
		return Step{Kind: StepForward, Frame: f, Visible: visible}
	}
	rewritten, err := sjson.Set(f.Payload, d.Path, visible)
	if err != nil {
		rewritten = ContentFrame(visible).Payload
	}
	return Step{Kind: StepForward, Frame: PayloadFrame(rewritten), Visible: visible}
}

// Commit adds text the client actually received to the visible reply.
func (s *State) Commit(visible string) {
	s.visible.WriteString(visible)
}

// Finish releases text held back while waiting to see whether it starts a
// tag. The returned string is visible text that has not been forwarded yet;
// like a step's Visible it must be committed once written.
func (s *State) Finish() string {
	rest := s.pending
	s.pending = ""
	if rest == "" || s.inThinking {
		s.thinking.WriteString(rest)
		return ""
	}
	return rest
}

func (s *State) split(text string) string {
	buf := s.pending + text
	s.pending = ""

	var out strings.Builder
	for buf != "" {
		marker := thinkOpen
		if s.inThinking {
			marker = thinkClose
		}
		if i := strings.Index(buf, marker); i >= 0 {
			s.emit(buf[:i], &out)
			buf = buf[i+len(marker):]
			s.inThinking = !s.inThinking
			continue
		}
		keep := partialSuffix(buf, marker)
		s.emit(buf[:len(buf)-keep], &out)
		s.pending = buf[len(buf)-keep:]
		break
	}
	return out.String()
}

func (s *State) emit(text string, out *strings.Builder) {
	if text == "" {
		return
	}
	if s.inThinking {
		s.thinking.WriteString(text)
		return
	}
	out.WriteString(text)
}

// partialSuffix is the length of the longest suffix of s that is a proper
// prefix of marker.
func partialSuffix(s, marker string) int {
	for n := min(len(s), len(marker)-1); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// Visible is the accumulated client-visible text, trimmed.
func (s *State) Visible() string { return strings.TrimSpace(s.visible.String()) }

// Thinking is the accumulated text found between think tags, trimmed.
func (s *State) Thinking() string { return strings.TrimSpace(s.thinking.String()) }

func (s *State) TotalTokens() int { return s.totalTokens }

func (s *State) Done() bool { return s.done }

func (s *State) Dropped() int { return s.dropped }

// ContentFrame builds a minimal payload frame carrying visible text.
func ContentFrame(text string) Frame {
	// the path is constant, so Set cannot fail
	payload, _ := sjson.Set(`{"choices":[{"index":0,"delta":{}}]}`, contentPath, text)
	return PayloadFrame(payload)
}
