package main

import (
	"github.com/google/uuid"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
)

// chatTurn is one entry in the transcript. The transcript is append-only
// except for the final entry, which is mutated in place while a reply streams.
type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// session is the single authoritative client state. It is a value type and
// every mutation is a pure transformation returning a new session, so racing
// completion messages can never observe a half-applied update.
type session struct {
	id              string
	transcript      []chatTurn
	config          appConfigDoc
	configLoaded    bool
	selectedModel   string
	taskType        string
	speedQuality    int
	streamEnabled   bool
	ragEnabled      bool
	muted           bool
	statusLine      string
	rulesText       string
	pendingApproval *approvalDecision
}

const statusReady = "ready"

func newSession() session {
	return session{
		id:            uuid.NewString(),
		taskType:      "general",
		speedQuality:  50,
		streamEnabled: true,
		ragEnabled:    true,
		statusLine:    "starting...",
	}
}

func (s session) appendTurn(turn chatTurn) session {
	transcript := make([]chatTurn, len(s.transcript), len(s.transcript)+1)
	copy(transcript, s.transcript)
	s.transcript = append(transcript, turn)
	return s
}

// appendUserTurn records the user's contribution and immediately seeds the
// empty assistant placeholder that the reply will stream into.
func (s session) appendUserTurn(content string) session {
	s = s.appendTurn(chatTurn{Role: roleUser, Content: content})
	return s.appendTurn(chatTurn{Role: roleAssistant})
}

func (s session) mutateLastTurn(mutate func(chatTurn) chatTurn) session {
	if len(s.transcript) == 0 {
		return s
	}
	transcript := make([]chatTurn, len(s.transcript))
	copy(transcript, s.transcript)
	transcript[len(transcript)-1] = mutate(transcript[len(transcript)-1])
	s.transcript = transcript
	return s
}

func (s session) appendToLastTurn(fragment string) session {
	return s.mutateLastTurn(func(turn chatTurn) chatTurn {
		turn.Content += fragment
		return turn
	})
}

func (s session) lastTurn() (chatTurn, bool) {
	if len(s.transcript) == 0 {
		return chatTurn{}, false
	}
	return s.transcript[len(s.transcript)-1], true
}

// replaceConfig installs a new snapshot and re-derives the UI toggles that
// mirror nested document fields. Defaults are merged once here so every other
// consumer reads a fully populated document.
func (s session) replaceConfig(doc appConfigDoc) session {
	doc = withConfigDefaults(doc)
	s.config = doc
	s.configLoaded = true
	s.ragEnabled = *doc.Rag.Enabled
	s.speedQuality = clampInt(*doc.Routing.SpeedQuality, 0, 100)
	s.rulesText = renderRouterRules(doc.Routing.Rules)
	return s
}

func (s session) setStatus(status string) session {
	s.statusLine = status
	return s
}

func (s session) setApproval(decision *approvalDecision) session {
	s.pendingApproval = decision
	return s
}

func (s session) clearApproval() session {
	s.pendingApproval = nil
	return s
}

func (s session) voiceEnabled() bool {
	return s.configLoaded && s.config.Voice.Enabled
}

func (s session) handsFree() bool {
	return s.voiceEnabled() && s.config.Voice.HandsFree
}

// outboundMessages is the payload view of the transcript: everything so far,
// minus the still-empty assistant placeholder at the tail.
func (s session) outboundMessages() []chatMessage {
	turns := s.transcript
	if n := len(turns); n > 0 && turns[n-1].Role == roleAssistant && turns[n-1].Content == "" {
		turns = turns[:n-1]
	}
	out := make([]chatMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	return out
}
