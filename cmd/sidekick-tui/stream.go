package main

import (
	"fmt"
)

// turnPhase names the lifecycle of one streamed assistant turn.
type turnPhase int

const (
	turnIdle turnPhase = iota
	turnAwaitingOpen
	turnStreaming
	turnCompleted
	turnErrored
)

func (p turnPhase) String() string {
	switch p {
	case turnIdle:
		return "idle"
	case turnAwaitingOpen:
		return "awaiting-open"
	case turnStreaming:
		return "streaming"
	case turnCompleted:
		return "completed"
	case turnErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// streamState accumulates one streamed reply. buffer mirrors the content of
// the transcript's last turn byte for byte while frames arrive; on done it
// becomes the final answer and is reset for the next turn.
type streamState struct {
	phase  turnPhase
	buffer string
}

// frameEffect is a side effect the caller must carry out after a reduction.
type frameEffect int

const (
	effectNone frameEffect = iota
	// effectSpeak hands the completed answer to speech-synthesis dispatch.
	effectSpeak
)

// applyFrame folds one channel frame into the stream state and the session.
// It is the only writer of the transcript tail during a streamed turn.
func applyFrame(st streamState, sess session, frame chatFrame) (streamState, session, frameEffect, string) {
	switch frame.Type {
	case frameToken:
		if st.phase == turnAwaitingOpen {
			st.phase = turnStreaming
		}
		if st.phase != turnStreaming {
			return st, sess, effectNone, ""
		}
		st.buffer += frame.Content
		sess = sess.appendToLastTurn(frame.Content)
		return st, sess, effectNone, ""
	case frameRouting:
		if st.phase == turnAwaitingOpen {
			st.phase = turnStreaming
		}
		// Informational only; never touches the transcript.
		sess = sess.setStatus(fmt.Sprintf("routed to %s (%s)", frame.Model, frame.Rule))
		return st, sess, effectNone, ""
	case frameRag:
		if st.phase == turnAwaitingOpen {
			st.phase = turnStreaming
		}
		sess = sess.setStatus(fmt.Sprintf("context from %d sources", len(frame.Sources)))
		return st, sess, effectNone, ""
	case frameDone:
		answer := st.buffer
		st.phase = turnCompleted
		st.buffer = ""
		return st, sess, effectSpeak, answer
	case frameError:
		st.phase = turnErrored
		// Partial content stays in the transcript; nothing is rolled back.
		sess = sess.setStatus("stream error: " + compactSingleLine(frame.Error, 160))
		return st, sess, effectNone, ""
	default:
		return st, sess, effectNone, ""
	}
}

// streamAfterClose resets the lifecycle once the channel is gone, whatever
// terminal phase was reached. A close before done simply ends the turn; any
// partial assistant content remains visible.
func streamAfterClose(st streamState) streamState {
	st.phase = turnIdle
	return st
}

// applyChatResponse fills the placeholder turn from a non-streamed reply.
func applyChatResponse(sess session, resp chatResponse) session {
	sess = sess.mutateLastTurn(func(turn chatTurn) chatTurn {
		turn.Content = resp.Content
		turn.Model = resp.Model
		return turn
	})
	status := "answered by " + resp.Model
	if resp.RoutingRule != "" {
		status += " (" + resp.RoutingRule + ")"
	}
	return sess.setStatus(status)
}
