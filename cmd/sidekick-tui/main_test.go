package main

import (
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func testModel() model {
	m := newModel(prefs{backendURL: "http://127.0.0.1:8000"})
	m.width = 100
	m.height = 30
	m.resize()
	m.sess = m.sess.replaceConfig(appConfigDoc{})
	return m
}

func TestSendTurnAppendsAndDismissesApproval(t *testing.T) {
	m := testModel()
	m.sess = m.sess.setApproval(&approvalDecision{Scope: "file_read:/x", RequiresApproval: true})
	cmd := m.sendTurn("hello")
	if cmd == nil {
		t.Fatalf("sendTurn produced no command")
	}
	if m.sess.pendingApproval != nil {
		t.Fatalf("a new turn must dismiss the pending approval")
	}
	if len(m.sess.transcript) != 2 {
		t.Fatalf("transcript length = %d", len(m.sess.transcript))
	}
	if m.stream.phase != turnAwaitingOpen {
		t.Fatalf("streamed turn phase = %v", m.stream.phase)
	}
}

func TestSendTurnRefusedWhileStreaming(t *testing.T) {
	m := testModel()
	m.stream.phase = turnStreaming
	if cmd := m.sendTurn("another"); cmd != nil {
		t.Fatalf("turn dispatched while a reply is streaming")
	}
	if len(m.sess.transcript) != 0 {
		t.Fatalf("refused turn reached the transcript")
	}
}

func TestSendTurnIgnoresBlankInput(t *testing.T) {
	m := testModel()
	if cmd := m.sendTurn("   "); cmd != nil {
		t.Fatalf("blank input dispatched")
	}
}

func TestSecondSendRefusedWhileReplyInFlight(t *testing.T) {
	m := testModel()
	m.sess.streamEnabled = false
	if cmd := m.sendTurn("question a"); cmd == nil {
		t.Fatalf("first turn not dispatched")
	}
	if cmd := m.sendTurn("question b"); cmd != nil {
		t.Fatalf("second turn dispatched while the first reply is in flight")
	}
	if len(m.sess.transcript) != 2 {
		t.Fatalf("refused turn reached the transcript: %d entries", len(m.sess.transcript))
	}
	next, _ := m.Update(chatDoneMsg{resp: chatResponse{Model: "m1", Content: "answer-a"}})
	m = next.(model)
	if m.sess.transcript[0].Content != "question a" {
		t.Fatalf("transcript[0] = %+v", m.sess.transcript[0])
	}
	turn, _ := m.sess.lastTurn()
	if turn.Role != roleAssistant || turn.Content != "answer-a" || turn.Model != "m1" {
		t.Fatalf("reply landed in the wrong placeholder: %+v", turn)
	}
	if cmd := m.sendTurn("question b"); cmd == nil {
		t.Fatalf("followup refused after the reply completed")
	}
}

func TestStaleChannelCloseLeavesNextTurnAlone(t *testing.T) {
	m := testModel()
	step := func(msg tea.Msg) {
		next, _ := m.Update(msg)
		m = next.(model)
	}
	if cmd := m.sendTurn("first"); cmd == nil {
		t.Fatalf("first turn not dispatched")
	}
	old := &chatChannel{frames: make(chan chatFrame)}
	step(channelOpenedMsg{ch: old})
	step(frameMsg{ch: old, frame: chatFrame{Type: frameToken, Content: "one"}, ok: true})
	step(frameMsg{ch: old, frame: chatFrame{Type: frameDone}, ok: true})

	// Next turn goes out before the finished channel's close is delivered.
	if cmd := m.sendTurn("second"); cmd == nil {
		t.Fatalf("second turn not dispatched after done")
	}
	step(frameMsg{ch: old, ok: false})
	if m.stream.phase != turnAwaitingOpen {
		t.Fatalf("stale close reset the new turn's phase to %v", m.stream.phase)
	}

	fresh := &chatChannel{frames: make(chan chatFrame)}
	step(channelOpenedMsg{ch: fresh})
	step(frameMsg{ch: fresh, frame: chatFrame{Type: frameToken, Content: "Hi"}, ok: true})
	if m.stream.phase != turnStreaming {
		t.Fatalf("new turn phase = %v", m.stream.phase)
	}
	turn, _ := m.sess.lastTurn()
	if turn.Role != roleAssistant || turn.Content != "Hi" {
		t.Fatalf("new turn's reply was dropped: %+v", turn)
	}
}

func TestSendTurnNonStreamedUsesSingleShot(t *testing.T) {
	m := testModel()
	m.sess.streamEnabled = false
	cmd := m.sendTurn("hello")
	if cmd == nil {
		t.Fatalf("no command for non-streamed turn")
	}
	if !m.inflight {
		t.Fatalf("non-streamed turn must mark inflight")
	}
	if m.stream.phase != turnIdle {
		t.Fatalf("non-streamed turn touched the stream phase: %v", m.stream.phase)
	}
}

func TestChatPayloadMirrorsSession(t *testing.T) {
	m := testModel()
	m.sess.selectedModel = "qwen2"
	m.sess.taskType = "coding"
	m.sess.ragEnabled = false
	_ = m.sendTurn("write a loop")
	payload := m.chatPayload()
	if payload.SessionID != m.sess.id {
		t.Fatalf("session id not carried")
	}
	if payload.Model != "qwen2" || payload.TaskType != "coding" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.UseRag {
		t.Fatalf("use_rag should mirror the toggle")
	}
	if payload.SpeedQuality == nil || *payload.SpeedQuality != m.sess.speedQuality {
		t.Fatalf("speed_quality = %v", payload.SpeedQuality)
	}
	if len(payload.Messages) != 1 {
		t.Fatalf("placeholder leaked into payload: %+v", payload.Messages)
	}
}

func TestFailActionRoutesApprovalDenials(t *testing.T) {
	m := testModel()
	m.failAction("skill weather", deniedError("skill:weather", "not enabled"))
	if m.sess.pendingApproval == nil {
		t.Fatalf("denial did not raise the approval gate")
	}
	if !strings.Contains(m.sess.statusLine, "skill:weather") {
		t.Fatalf("status = %q", m.sess.statusLine)
	}

	m = testModel()
	m.failAction("chat", &apiError{status: 500, message: "boom"})
	if m.sess.pendingApproval != nil {
		t.Fatalf("plain failure raised the approval gate")
	}
	if m.sess.statusLine != "chat failed" {
		t.Fatalf("status = %q", m.sess.statusLine)
	}
	if len(m.logs) == 0 {
		t.Fatalf("plain failure not logged")
	}
}

func TestHandleSlashLocalCommands(t *testing.T) {
	m := testModel()
	if cmd := m.handleSlash("/model qwen2"); cmd != nil {
		t.Fatalf("/model should not hit the network")
	}
	if m.sess.selectedModel != "qwen2" {
		t.Fatalf("model = %q", m.sess.selectedModel)
	}
	_ = m.handleSlash("/model")
	if m.sess.selectedModel != "" {
		t.Fatalf("bare /model should clear the pin")
	}

	_ = m.handleSlash("/stream")
	if m.sess.streamEnabled {
		t.Fatalf("/stream did not toggle")
	}
	_ = m.handleSlash("/mute")
	if !m.sess.muted {
		t.Fatalf("/mute did not toggle")
	}
	_ = m.handleSlash("/task coding")
	if m.sess.taskType != "coding" {
		t.Fatalf("task = %q", m.sess.taskType)
	}
	_ = m.handleSlash("/bogus")
	if !strings.Contains(m.sess.statusLine, "unknown command") {
		t.Fatalf("status = %q", m.sess.statusLine)
	}
}

func TestHandleSlashConfigEditsReturnCommands(t *testing.T) {
	m := testModel()
	for _, line := range []string{"/rag", "/voice", "/handsfree", "/wake", "/quality 90"} {
		if cmd := m.handleSlash(line); cmd == nil {
			t.Fatalf("%s produced no save command", line)
		}
	}
	m.sess.configLoaded = false
	if cmd := m.handleSlash("/rag"); cmd != nil {
		t.Fatalf("config edit allowed before the snapshot loaded")
	}
}

func TestHandleSlashRulesRejectsBadJSON(t *testing.T) {
	m := testModel()
	m.sess.config.Routing.Rules = []routerRule{{Name: "keep", Model: "llama3"}}
	if cmd := m.handleSlash(`/rules [{"name": }`); cmd != nil {
		t.Fatalf("malformed rules produced a save command")
	}
	if len(m.sess.config.Routing.Rules) != 1 {
		t.Fatalf("snapshot rules changed on a failed edit")
	}
	if !strings.Contains(m.input.Value(), "/rules") {
		t.Fatalf("failed edit should stay in the input for correction")
	}
}

func TestHandleSlashLogsValidation(t *testing.T) {
	m := testModel()
	if cmd := m.handleSlash("/logs dreams 20"); cmd == nil {
		t.Fatalf("/logs dreams produced no fetch")
	}
	if m.activeTab != tabLogs {
		t.Fatalf("tab = %v", m.activeTab)
	}
	if cmd := m.handleSlash("/logs nonsense"); cmd != nil {
		t.Fatalf("unknown journal fetched anyway")
	}
}

func TestHandleShellSignals(t *testing.T) {
	m := testModel()
	m.handleShellSignal("command_bar:open")
	if !m.pal.open {
		t.Fatalf("command_bar:open did not open the palette")
	}
	m.handleShellSignal("audio:mute")
	if !m.sess.muted {
		t.Fatalf("audio:mute did not toggle")
	}
	if cmds := m.handleShellSignal("hands_free:toggle"); len(cmds) != 1 {
		t.Fatalf("hands_free:toggle produced %d commands", len(cmds))
	}
	m.handleShellSignal("warp:engage")
	if len(m.logs) == 0 || !strings.Contains(m.logs[len(m.logs)-1], "unknown shell signal") {
		t.Fatalf("unknown signal not logged")
	}
}

func TestAdjustSettingLocalEntries(t *testing.T) {
	m := testModel()
	m.models = []modelTag{{Name: "a"}, {Name: "b"}}

	m.settingsIndex = 0
	_ = m.adjustSetting(1)
	if m.sess.streamEnabled {
		t.Fatalf("streaming entry did not toggle")
	}

	m.settingsIndex = 6
	_ = m.adjustSetting(1)
	if m.sess.selectedModel != "a" {
		t.Fatalf("model entry = %q", m.sess.selectedModel)
	}
	_ = m.adjustSetting(-1)
	if m.sess.selectedModel != "" {
		t.Fatalf("model entry should cycle back to the router default")
	}

	m.settingsIndex = 7
	before := m.sess.taskType
	_ = m.adjustSetting(1)
	if m.sess.taskType == before {
		t.Fatalf("task entry did not cycle")
	}
}

func TestSplitCommandQuoting(t *testing.T) {
	cases := map[string][]string{
		"arecord -q -f S16_LE -":    {"arecord", "-q", "-f", "S16_LE", "-"},
		`say "hello world" now`:     {"say", "hello world", "now"},
		`echo 'a b' c`:              {"echo", "a b", "c"},
		"":                          nil,
		"   ":                       nil,
		`grep \ space`:              {"grep", " space"},
	}
	for in, want := range cases {
		got := splitCommand(in)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("splitCommand(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestHelpers(t *testing.T) {
	if clampInt(120, 0, 100) != 100 || clampInt(-5, 0, 100) != 0 || clampInt(42, 0, 100) != 42 {
		t.Fatalf("clampInt misbehaves")
	}
	if truncate("abcdef", 5) != "ab..." {
		t.Fatalf("truncate = %q", truncate("abcdef", 5))
	}
	if compactSingleLine("a\n  b\tc", 10) != "a b c" {
		t.Fatalf("compactSingleLine = %q", compactSingleLine("a\n  b\tc", 10))
	}
	if cycleString([]string{"a", "b", "c"}, "c", 1) != "a" {
		t.Fatalf("cycleString should wrap")
	}
	if cycleString([]string{"a", "b"}, "missing", 1) != "b" {
		t.Fatalf("cycleString with unknown current should step from the front")
	}
	wrapped := wrapText("aaaa bbbb cccc", 9)
	if wrapped != "aaaa\nbbbb cccc" {
		t.Fatalf("wrapText = %q", wrapped)
	}
}
