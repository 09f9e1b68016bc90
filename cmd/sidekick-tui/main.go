package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"
)

const (
	defaultBackendURL    = "http://127.0.0.1:8000"
	defaultRecordCommand = "arecord -q -f S16_LE -r 16000 -c 1 -t wav -"
	defaultPlayCommand   = "aplay -q -"
	maxClientLogLines    = 200
	defaultLogTail       = 50
)

var taskTypes = []string{"general", "coding", "qa", "reasoning", "voice"}

var logJournals = []string{"audit", "dreams", "reflections"}

// prefs are the client's own settings, distinct from the server-held config
// document. File + env via viper, flags override.
type prefs struct {
	backendURL    string
	controlSocket string
	recordCommand string
	playCommand   string
	altScreen     bool
}

func loadPrefs() prefs {
	v := viper.New()
	v.SetDefault("backend.url", defaultBackendURL)
	v.SetDefault("shell.socket", filepath.Join(os.TempDir(), "sidekick-control.sock"))
	v.SetDefault("voice.record_command", defaultRecordCommand)
	v.SetDefault("voice.play_command", defaultPlayCommand)
	v.SetDefault("ui.alt_screen", true)

	v.SetConfigType("toml")
	if cfgPath := strings.TrimSpace(os.Getenv("SIDEKICK_CONFIG")); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "sidekick"))
		v.SetConfigName("config")
	}
	v.SetEnvPrefix("SIDEKICK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.ReadInConfig()

	return prefs{
		backendURL:    v.GetString("backend.url"),
		controlSocket: v.GetString("shell.socket"),
		recordCommand: v.GetString("voice.record_command"),
		playCommand:   v.GetString("voice.play_command"),
		altScreen:     v.GetBool("ui.alt_screen"),
	}
}

func parsePrefs() prefs {
	p := loadPrefs()
	flag.StringVar(&p.backendURL, "backend-url", p.backendURL, "Assistant backend base URL")
	flag.StringVar(&p.controlSocket, "control-socket", p.controlSocket, "Unix socket for hosting-shell signals (empty to disable)")
	flag.StringVar(&p.recordCommand, "record-command", p.recordCommand, "Command that captures microphone WAV to stdout")
	flag.StringVar(&p.playCommand, "play-command", p.playCommand, "Command that plays WAV from stdin (empty to discard audio)")
	flag.BoolVar(&p.altScreen, "alt-screen", p.altScreen, "Use alternate screen buffer")
	flag.Parse()
	p.backendURL = strings.TrimRight(strings.TrimSpace(p.backendURL), "/")
	return p
}

type tabID int

const (
	tabChat tabID = iota
	tabLogs
	tabSettings
	tabHelp
)

type model struct {
	prefs  prefs
	client *apiClient

	sess    session
	stream  streamState
	channel *chatChannel

	captureState captureState
	rec          recorder

	pal    palette
	models []modelTag

	logJournal string
	logEntries []logEntry

	ready         bool
	inflight      bool
	quitConfirm   bool
	activeTab     tabID
	settingsIndex int
	logs          []string

	shellInbound   chan tea.Msg
	shellListening bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

func newModel(p prefs) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type a message, /help for commands, ctrl+v to talk"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7ee787"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	sidebar.MouseWheelEnabled = true
	sidebar.MouseWheelDelta = 4

	return model{
		prefs:      p,
		client:     newAPIClient(p.backendURL),
		sess:       newSession(),
		rec:        newExecRecorder(p.recordCommand),
		pal:        newPalette(),
		logJournal: "audit",
		activeTab:  tabChat,
		logs:       []string{},
		input:      input,
		timeline:   timeline,
		sidebar:    sidebar,
		spinner:    sp,
		theme:      newTheme(),
	}
}

type channelOpenedMsg struct {
	ch  *chatChannel
	err error
}

type frameMsg struct {
	ch    *chatChannel
	frame chatFrame
	ok    bool
}

type chatDoneMsg struct {
	resp chatResponse
	err  error
}

type logsLoadedMsg struct {
	journal string
	entries []logEntry
	err     error
}

type skillDoneMsg struct {
	skill  string
	result toolResult
	err    error
}

type ingestDoneMsg struct {
	resp ragIngestResp
	err  error
}

type routeTestMsg struct {
	resp routeDecisionResp
	err  error
}

type speakDoneMsg struct {
	err error
}

type shellSignalMsg struct {
	event string
}

type shellStatusMsg struct {
	info string
	err  error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadStartupCmd(m.client))
}

func openChannelCmd(client *apiClient, payload chatRequest) tea.Cmd {
	return func() tea.Msg {
		ch, err := client.openChannel(payload)
		return channelOpenedMsg{ch: ch, err: err}
	}
}

// waitFrame bridges the channel's frames into the serial update loop, one
// frame per command, preserving delivery order.
func waitFrame(ch *chatChannel) tea.Cmd {
	return func() tea.Msg {
		frame, ok := <-ch.frames
		return frameMsg{ch: ch, frame: frame, ok: ok}
	}
}

func chatOnceCmd(client *apiClient, payload chatRequest) tea.Cmd {
	return func() tea.Msg {
		var resp chatResponse
		if err := client.request(context.Background(), http.MethodPost, "/chat", payload, &resp); err != nil {
			return chatDoneMsg{err: err}
		}
		return chatDoneMsg{resp: resp}
	}
}

func logsCmd(client *apiClient, journal string, tail int) tea.Cmd {
	return func() tea.Msg {
		var resp logsResp
		path := fmt.Sprintf("/logs/%s?tail=%d", journal, tail)
		if err := client.request(context.Background(), http.MethodGet, path, nil, &resp); err != nil {
			return logsLoadedMsg{journal: journal, err: err}
		}
		return logsLoadedMsg{journal: journal, entries: resp.Entries}
	}
}

func skillRunCmd(client *apiClient, skill string, input map[string]any) tea.Cmd {
	return func() tea.Msg {
		payload := map[string]any{"skill": skill, "input": input}
		var result toolResult
		if err := client.request(context.Background(), http.MethodPost, "/skills/run", payload, &result); err != nil {
			return skillDoneMsg{skill: skill, err: err}
		}
		return skillDoneMsg{skill: skill, result: result}
	}
}

func ragIngestCmd(client *apiClient, paths []string) tea.Cmd {
	return func() tea.Msg {
		payload := map[string]any{"paths": paths}
		var resp ragIngestResp
		if err := client.request(context.Background(), http.MethodPost, "/rag/ingest", payload, &resp); err != nil {
			return ingestDoneMsg{err: err}
		}
		return ingestDoneMsg{resp: resp}
	}
}

func routeTestCmd(client *apiClient, message, taskType string, speedQuality int, modelName string) tea.Cmd {
	return func() tea.Msg {
		payload := map[string]any{
			"message":       message,
			"task_type":     taskType,
			"speed_quality": speedQuality,
		}
		if modelName != "" {
			payload["model"] = modelName
		}
		var resp routeDecisionResp
		if err := client.request(context.Background(), http.MethodPost, "/router/test", payload, &resp); err != nil {
			return routeTestMsg{err: err}
		}
		return routeTestMsg{resp: resp}
	}
}

func speakCmd(client *apiClient, playCommand, text string) tea.Cmd {
	return func() tea.Msg {
		audio, err := client.requestBytes(context.Background(), http.MethodPost, "/voice/speak", map[string]string{"text": text})
		if err != nil {
			return speakDoneMsg{err: err}
		}
		parts := splitCommand(playCommand)
		if len(parts) == 0 {
			return speakDoneMsg{}
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Stdin = bytes.NewReader(audio)
		if err := cmd.Run(); err != nil {
			return speakDoneMsg{err: err}
		}
		return speakDoneMsg{}
	}
}

func waitShellMsg(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *model) startShellListener() tea.Cmd {
	socketPath := strings.TrimSpace(m.prefs.controlSocket)
	if socketPath == "" || m.shellListening {
		return nil
	}
	m.shellInbound = make(chan tea.Msg, 32)
	m.shellListening = true
	go runShellListener(socketPath, m.shellInbound)
	return waitShellMsg(m.shellInbound)
}

// runShellListener accepts fire-and-forget signals from the hosting shell
// (tray menu, global hotkey) as JSON lines on a unix socket. No replies are
// ever written back.
func runShellListener(socketPath string, out chan<- tea.Msg) {
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		out <- shellStatusMsg{err: err}
		return
	}
	out <- shellStatusMsg{info: "control socket ready: " + socketPath}
	for {
		conn, err := listener.Accept()
		if err != nil {
			out <- shellStatusMsg{err: err}
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				var payload struct {
					Event string `json:"event"`
				}
				if err := json.Unmarshal([]byte(line), &payload); err != nil {
					// Bare event names are accepted too.
					payload.Event = line
				}
				event := strings.TrimSpace(payload.Event)
				if event == "" {
					continue
				}
				select {
				case out <- shellSignalMsg{event: event}:
				default:
				}
			}
		}(conn)
	}
}

// sendTurn is the single entry point for dispatching a user turn, shared by
// the main input box, the command palette, and transcribed voice input.
func (m *model) sendTurn(content string) tea.Cmd {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if m.inflight || m.stream.phase == turnAwaitingOpen || m.stream.phase == turnStreaming {
		m.sess = m.sess.setStatus("still replying; wait for the current turn")
		return nil
	}
	// A new turn dismisses any pending approval.
	m.sess = m.sess.clearApproval().appendUserTurn(content).setStatus("thinking...")
	payload := m.chatPayload()
	if m.sess.streamEnabled {
		// The finished channel may still be draining its close event; detach
		// it now so that event cannot reach the new turn's lifecycle.
		if m.channel != nil {
			m.channel.close()
			m.channel = nil
		}
		m.stream = streamState{phase: turnAwaitingOpen}
		return openChannelCmd(m.client, payload)
	}
	m.inflight = true
	return chatOnceCmd(m.client, payload)
}

func (m *model) chatPayload() chatRequest {
	return chatRequest{
		SessionID:    m.sess.id,
		Messages:     m.sess.outboundMessages(),
		Model:        m.sess.selectedModel,
		TaskType:     m.sess.taskType,
		SpeedQuality: intPtr(m.sess.speedQuality),
		Stream:       m.sess.streamEnabled,
		UseRag:       m.sess.ragEnabled,
	}
}

// failAction routes a boundary failure either into the approval gate or into
// plain status text. Nothing propagates past here.
func (m *model) failAction(action string, err error) {
	if decision, ok := approvalFromError(err); ok {
		m.sess = m.sess.setApproval(decision).setStatus("approval required: " + decision.Scope)
		return
	}
	m.logError(err)
	m.sess = m.sess.setStatus(action + " failed")
}

// saveConfigWith builds an edited copy of the snapshot and submits the whole
// document. The snapshot itself is only replaced by the server's response.
func (m *model) saveConfigWith(mutate func(appConfigDoc) appConfigDoc, status string) tea.Cmd {
	if !m.sess.configLoaded {
		m.sess = m.sess.setStatus("settings not loaded; cannot save")
		return nil
	}
	doc := mutate(m.sess.config)
	m.sess = m.sess.setStatus("saving settings...")
	return saveConfigCmd(m.client, doc, status, false)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case initDoneMsg:
		m.ready = true
		if msg.err != nil {
			m.logError(msg.err)
			m.sess = m.sess.setStatus("backend unreachable; settings unavailable")
		} else {
			m.sess = m.sess.replaceConfig(msg.doc).setStatus(statusReady)
			m.models = msg.models
		}
		if cmd := m.startShellListener(); cmd != nil {
			cmds = append(cmds, cmd)
		}
		m.renderPanes()
	case modelsMsg:
		if msg.err != nil {
			m.failAction("model list", msg.err)
		} else {
			m.models = msg.models
			m.sess = m.sess.setStatus(fmt.Sprintf("%d models available", len(msg.models)))
		}
		m.renderPanes()
	case channelOpenedMsg:
		if msg.err != nil {
			m.stream = streamAfterClose(m.stream)
			m.failAction("chat", msg.err)
			m.renderPanes()
			break
		}
		if m.channel != nil {
			m.channel.close()
		}
		m.channel = msg.ch
		cmds = append(cmds, waitFrame(msg.ch))
	case frameMsg:
		if msg.ch != m.channel {
			// Leftovers from a channel that was already superseded.
			break
		}
		if !msg.ok {
			// Channel closed: the turn is over no matter which phase we
			// reached; a drop before done leaves the partial reply in place.
			m.channel = nil
			m.stream = streamAfterClose(m.stream)
			m.sess = m.sess.setStatus(statusReady)
			m.renderPanes()
			break
		}
		var effect frameEffect
		var answer string
		m.stream, m.sess, effect, answer = applyFrame(m.stream, m.sess, msg.frame)
		if effect == effectSpeak {
			if m.sess.voiceEnabled() && !m.sess.muted && answer != "" {
				cmds = append(cmds, speakCmd(m.client, m.prefs.playCommand, answer))
			}
			if m.sess.handsFree() && m.captureState == captureIdle {
				cmds = append(cmds, startCaptureCmd(m.rec))
			}
		}
		if m.channel != nil {
			cmds = append(cmds, waitFrame(m.channel))
		}
		m.renderPanes()
	case chatDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.failAction("chat", msg.err)
		} else {
			m.sess = applyChatResponse(m.sess, msg.resp)
		}
		m.renderPanes()
	case configSavedMsg:
		if msg.err != nil {
			m.failAction("settings save", msg.err)
			m.renderPanes()
			break
		}
		m.sess = m.sess.replaceConfig(msg.doc)
		if msg.clearApproval {
			m.sess = m.sess.clearApproval()
		}
		m.sess = m.sess.setStatus(ternary(msg.status != "", msg.status, "settings saved"))
		m.renderPanes()
	case approvalPostedMsg:
		if msg.err != nil {
			m.logError(fmt.Errorf("approval grant for %s: %w", msg.scope, msg.err))
		} else {
			m.appendLog("approved once: " + msg.scope)
		}
	case captureStartedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, errRecorderActive) {
				// A second ctrl+v raced the first start; the live recording
				// keeps going.
				m.sess = m.sess.setStatus("already recording")
				m.renderPanes()
				break
			}
			m.captureState = nextCaptureState(m.captureState, captureEvDenied)
			m.logError(msg.err)
			m.sess = m.sess.setStatus("microphone access denied")
			m.captureState = nextCaptureState(m.captureState, captureEvReset)
			m.renderPanes()
			break
		}
		m.captureState = nextCaptureState(m.captureState, captureEvGranted)
		m.sess = m.sess.setStatus("recording... ctrl+v to stop")
		m.renderPanes()
	case captureStoppedMsg:
		m.captureState = nextCaptureState(m.captureState, captureEvStopped)
		if msg.err != nil {
			m.logError(msg.err)
			m.sess = m.sess.setStatus("capture failed")
			m.captureState = nextCaptureState(m.captureState, captureEvSubmitErr)
			m.renderPanes()
			break
		}
		m.sess = m.sess.setStatus("transcribing...")
		cmds = append(cmds, transcribeCmd(m.client, msg.audio))
		m.renderPanes()
	case transcribedMsg:
		if msg.err != nil {
			m.captureState = nextCaptureState(m.captureState, captureEvSubmitErr)
			m.failAction("transcription", msg.err)
			m.renderPanes()
			break
		}
		m.captureState = nextCaptureState(m.captureState, captureEvSubmitOK)
		if msg.text == "" {
			m.sess = m.sess.setStatus("heard nothing")
			m.renderPanes()
			break
		}
		cmds = append(cmds, m.sendTurn(msg.text))
		m.renderPanes()
	case logsLoadedMsg:
		if msg.err != nil {
			m.failAction("log fetch", msg.err)
			m.renderPanes()
			break
		}
		m.logJournal = msg.journal
		m.logEntries = msg.entries
		m.sess = m.sess.setStatus(fmt.Sprintf("%s journal: %d entries", msg.journal, len(msg.entries)))
		m.renderPanes()
	case skillDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.failAction("skill "+msg.skill, msg.err)
			m.renderPanes()
			break
		}
		if msg.result.Success {
			m.sess = m.sess.setStatus("skill " + msg.skill + ": ok")
			m.appendLog(compactSingleLine("skill "+msg.skill+": "+msg.result.Output, 200))
		} else {
			m.sess = m.sess.setStatus("skill " + msg.skill + ": " + compactSingleLine(msg.result.Error, 120))
		}
		m.renderPanes()
	case ingestDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.failAction("ingest", msg.err)
			m.renderPanes()
			break
		}
		m.sess = m.sess.setStatus(fmt.Sprintf("indexed %d, skipped %d", len(msg.resp.Indexed), len(msg.resp.Skipped)))
		m.renderPanes()
	case routeTestMsg:
		m.inflight = false
		if msg.err != nil {
			m.failAction("route test", msg.err)
		} else {
			m.sess = m.sess.setStatus(fmt.Sprintf("would route to %s (%s, %s)", msg.resp.Model, msg.resp.Rule, msg.resp.TaskType))
		}
		m.renderPanes()
	case speakDoneMsg:
		if msg.err != nil {
			m.logError(fmt.Errorf("speech dispatch: %w", msg.err))
		}
	case shellStatusMsg:
		if msg.err != nil {
			m.logError(fmt.Errorf("control socket: %w", msg.err))
		} else if msg.info != "" {
			m.appendLog(msg.info)
		}
		cmds = append(cmds, waitShellMsg(m.shellInbound))
	case shellSignalMsg:
		cmds = append(cmds, m.handleShellSignal(msg.event)...)
		cmds = append(cmds, waitShellMsg(m.shellInbound))
		m.renderPanes()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.BlurMsg:
		// Losing terminal focus releases the microphone, same as an explicit
		// stop.
		if m.captureState == captureRecording {
			cmds = append(cmds, stopCaptureCmd(m.rec))
		}
	case tea.MouseMsg:
		if m.quitConfirm || m.pal.open {
			break
		}
		switch m.activeTab {
		case tabChat:
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			cmds = append(cmds, cmd)
		case tabLogs:
			var cmd tea.Cmd
			m.sidebar, cmd = m.sidebar.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		if m.captureState == captureRecording {
			_, _ = m.rec.stop()
		}
		return m, tea.Quit
	}
	if m.quitConfirm {
		switch msg.String() {
		case "y", "Y", "enter":
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.sess = m.sess.setStatus("quit canceled")
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}

	if m.pal.open {
		switch msg.String() {
		case "esc":
			m.pal = m.pal.hide()
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "up":
			m.pal = m.pal.moveSelection(-1)
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "down":
			m.pal = m.pal.moveSelection(1)
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "enter":
			if raw := strings.TrimSpace(m.pal.input.Value()); raw != "" {
				m.pal = m.pal.hide()
				m.activeTab = tabChat
				cmds = append(cmds, m.sendTurn(raw))
				m.renderPanes()
				return m, tea.Batch(cmds...)
			}
			if name, ok := m.pal.selectedModel(); ok {
				m.sess.selectedModel = name
				m.pal = m.pal.hide()
				m.sess = m.sess.setStatus("model: " + name)
				m.renderPanes()
				return m, tea.Batch(cmds...)
			}
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.pal.input, cmd = m.pal.input.Update(msg)
		cmds = append(cmds, cmd)
		m.renderPanes()
		return m, tea.Batch(cmds...)
	}

	if m.sess.pendingApproval != nil {
		switch msg.String() {
		case "ctrl+o":
			decision := m.sess.pendingApproval
			m.sess = m.sess.clearApproval().setStatus("approved once: " + decision.Scope)
			cmds = append(cmds, approveOnceCmd(m.client, decision.Scope))
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "ctrl+a":
			decision := m.sess.pendingApproval
			doc, changed := applyApprovalAlways(m.sess.config, decision.Scope)
			if !changed {
				m.sess = m.sess.clearApproval()
				m.renderPanes()
				return m, tea.Batch(cmds...)
			}
			m.sess = m.sess.setStatus("allowlisting " + decision.Scope + "...")
			cmds = append(cmds, saveConfigCmd(m.client, doc, "always allowed: "+decision.Scope, true))
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "esc":
			m.sess = m.sess.clearApproval().setStatus(statusReady)
			m.renderPanes()
			return m, tea.Batch(cmds...)
		}
	}

	switch msg.String() {
	case "tab":
		if m.captureState == captureRecording {
			cmds = append(cmds, stopCaptureCmd(m.rec))
		}
		m.activeTab = (m.activeTab + 1) % 4
		m.syncFocus()
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "shift+tab":
		if m.captureState == captureRecording {
			cmds = append(cmds, stopCaptureCmd(m.rec))
		}
		m.activeTab = (m.activeTab + 3) % 4
		m.syncFocus()
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "ctrl+p":
		m.pal = m.pal.show(m.models)
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "ctrl+v":
		switch m.captureState {
		case captureIdle:
			cmds = append(cmds, startCaptureCmd(m.rec))
		case captureRecording:
			cmds = append(cmds, stopCaptureCmd(m.rec))
		}
		return m, tea.Batch(cmds...)
	case "esc":
		if m.activeTab == tabChat {
			m.quitConfirm = true
			m.renderPanes()
		} else {
			m.activeTab = tabChat
			m.syncFocus()
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}

	switch m.activeTab {
	case tabChat:
		switch msg.String() {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			if strings.HasPrefix(raw, "/") {
				cmds = append(cmds, m.handleSlash(raw))
				m.renderPanes()
				return m, tea.Batch(cmds...)
			}
			cmds = append(cmds, m.sendTurn(raw))
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "pgup":
			m.timeline.LineUp(8)
			return m, tea.Batch(cmds...)
		case "pgdown":
			m.timeline.LineDown(8)
			return m, tea.Batch(cmds...)
		case "home":
			m.timeline.GotoTop()
			return m, tea.Batch(cmds...)
		case "end":
			m.timeline.GotoBottom()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tabLogs:
		switch msg.String() {
		case "left", "h":
			m.logJournal = cycleString(logJournals, m.logJournal, -1)
			cmds = append(cmds, logsCmd(m.client, m.logJournal, defaultLogTail))
		case "right", "l":
			m.logJournal = cycleString(logJournals, m.logJournal, 1)
			cmds = append(cmds, logsCmd(m.client, m.logJournal, defaultLogTail))
		case "r":
			cmds = append(cmds, logsCmd(m.client, m.logJournal, defaultLogTail))
		case "up", "k":
			m.sidebar.LineUp(4)
		case "down", "j":
			m.sidebar.LineDown(4)
		case "pgup":
			m.sidebar.LineUp(8)
		case "pgdown":
			m.sidebar.LineDown(8)
		}
	case tabSettings:
		switch msg.String() {
		case "up", "k":
			m.settingsIndex = maxInt(0, m.settingsIndex-1)
		case "down", "j":
			m.settingsIndex = minInt(m.maxSettingsIndex(), m.settingsIndex+1)
		case "left", "h", "-":
			cmds = append(cmds, m.adjustSetting(-1))
		case "right", "l", "+":
			cmds = append(cmds, m.adjustSetting(1))
		}
		m.renderPanes()
	}
	return m, tea.Batch(cmds...)
}

func (m *model) syncFocus() {
	if m.activeTab == tabChat {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *model) handleShellSignal(event string) []tea.Cmd {
	switch event {
	case "command_bar:open":
		m.pal = m.pal.show(m.models)
		return nil
	case "hands_free:toggle":
		cmd := m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.HandsFree = !doc.Voice.HandsFree
			return doc
		}, "hands-free toggled")
		if cmd != nil {
			return []tea.Cmd{cmd}
		}
		return nil
	case "audio:mute":
		m.sess.muted = !m.sess.muted
		m.sess = m.sess.setStatus(ternary(m.sess.muted, "audio muted", "audio unmuted"))
		return nil
	default:
		m.appendLog("unknown shell signal: " + compactSingleLine(event, 80))
		return nil
	}
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return nil
	}
	command := strings.ToLower(parts[0])
	tail := parts[1:]
	switch command {
	case "/help":
		m.activeTab = tabHelp
		m.syncFocus()
		return nil
	case "/quit", "/exit":
		m.quitConfirm = true
		return nil
	case "/models":
		return refreshModelsCmd(m.client)
	case "/model":
		if len(tail) == 0 {
			m.sess.selectedModel = ""
			m.sess = m.sess.setStatus("model override cleared")
			return nil
		}
		m.sess.selectedModel = tail[0]
		m.sess = m.sess.setStatus("model: " + tail[0])
		return nil
	case "/task":
		if len(tail) == 0 {
			m.sess = m.sess.setStatus("usage: /task " + strings.Join(taskTypes, "|"))
			return nil
		}
		m.sess.taskType = strings.ToLower(tail[0])
		m.sess = m.sess.setStatus("task type: " + m.sess.taskType)
		return nil
	case "/quality":
		if len(tail) == 0 {
			m.sess = m.sess.setStatus(fmt.Sprintf("speed/quality: %d", m.sess.speedQuality))
			return nil
		}
		value, err := strconv.Atoi(tail[0])
		if err != nil {
			m.sess = m.sess.setStatus("usage: /quality <0-100>")
			return nil
		}
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Routing.SpeedQuality = intPtr(clampInt(value, 0, 100))
			return doc
		}, fmt.Sprintf("speed/quality: %d", clampInt(value, 0, 100)))
	case "/stream":
		m.sess.streamEnabled = !m.sess.streamEnabled
		m.sess = m.sess.setStatus("streaming " + onOff(m.sess.streamEnabled))
		return nil
	case "/rag":
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Rag.Enabled = boolPtr(!*doc.Rag.Enabled)
			return doc
		}, "retrieval toggled")
	case "/voice":
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.Enabled = !doc.Voice.Enabled
			return doc
		}, "voice toggled")
	case "/handsfree":
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.HandsFree = !doc.Voice.HandsFree
			return doc
		}, "hands-free toggled")
	case "/wake":
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.WakeWordEnabled = !doc.Voice.WakeWordEnabled
			return doc
		}, "wake word toggled")
	case "/mute":
		m.sess.muted = !m.sess.muted
		m.sess = m.sess.setStatus(ternary(m.sess.muted, "audio muted", "audio unmuted"))
		return nil
	case "/logs":
		journal := m.logJournal
		tailSize := defaultLogTail
		if len(tail) > 0 {
			journal = strings.ToLower(tail[0])
		}
		valid := false
		for _, known := range logJournals {
			if journal == known {
				valid = true
				break
			}
		}
		if !valid {
			m.sess = m.sess.setStatus("usage: /logs audit|dreams|reflections [n]")
			return nil
		}
		if len(tail) > 1 {
			if parsed, err := strconv.Atoi(tail[1]); err == nil {
				tailSize = clampInt(parsed, 1, 1000)
			}
		}
		m.activeTab = tabLogs
		m.syncFocus()
		return logsCmd(m.client, journal, tailSize)
	case "/skill":
		if len(tail) == 0 {
			m.sess = m.sess.setStatus("usage: /skill <name> [json input]")
			return nil
		}
		input := map[string]any{}
		if len(tail) > 1 {
			rawInput := strings.Join(tail[1:], " ")
			if err := json.Unmarshal([]byte(rawInput), &input); err != nil {
				m.sess = m.sess.setStatus("skill input must be a JSON object")
				return nil
			}
		}
		m.inflight = true
		m.sess = m.sess.setStatus("running skill " + tail[0] + "...")
		return skillRunCmd(m.client, tail[0], input)
	case "/ingest":
		if len(tail) == 0 {
			m.sess = m.sess.setStatus("usage: /ingest <path> [path...]")
			return nil
		}
		m.inflight = true
		m.sess = m.sess.setStatus("indexing...")
		return ragIngestCmd(m.client, tail)
	case "/route":
		if len(tail) == 0 {
			m.sess = m.sess.setStatus("usage: /route <message>")
			return nil
		}
		m.inflight = true
		return routeTestCmd(m.client, strings.Join(tail, " "), m.sess.taskType, m.sess.speedQuality, m.sess.selectedModel)
	case "/rules":
		if len(tail) == 0 {
			m.activeTab = tabSettings
			m.syncFocus()
			m.sess = m.sess.setStatus("current rules shown in settings; /rules <json array> to replace")
			return nil
		}
		rawRules := strings.TrimSpace(strings.TrimPrefix(raw, parts[0]))
		rules, err := parseRouterRules(rawRules)
		if err != nil {
			// Keep the malformed edit in the input box for correction.
			m.sess = m.sess.setStatus(compactSingleLine(err.Error(), 160))
			m.sess.rulesText = rawRules
			m.input.SetValue(raw)
			return nil
		}
		m.sess.rulesText = rawRules
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Routing.Rules = rules
			return doc
		}, fmt.Sprintf("routing rules replaced (%d)", len(rules)))
	default:
		m.sess = m.sess.setStatus("unknown command: " + command)
		return nil
	}
}

func (m *model) maxSettingsIndex() int {
	return 7
}

func (m *model) adjustSetting(delta int) tea.Cmd {
	switch m.settingsIndex {
	case 0:
		m.sess.streamEnabled = !m.sess.streamEnabled
		m.sess = m.sess.setStatus("streaming " + onOff(m.sess.streamEnabled))
		return nil
	case 1:
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Rag.Enabled = boolPtr(!*doc.Rag.Enabled)
			return doc
		}, "retrieval toggled")
	case 2:
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.Enabled = !doc.Voice.Enabled
			return doc
		}, "voice toggled")
	case 3:
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.HandsFree = !doc.Voice.HandsFree
			return doc
		}, "hands-free toggled")
	case 4:
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Voice.WakeWordEnabled = !doc.Voice.WakeWordEnabled
			return doc
		}, "wake word toggled")
	case 5:
		target := clampInt(m.sess.speedQuality+delta*5, 0, 100)
		return m.saveConfigWith(func(doc appConfigDoc) appConfigDoc {
			doc.Routing.SpeedQuality = intPtr(target)
			return doc
		}, fmt.Sprintf("speed/quality: %d", target))
	case 6:
		names := make([]string, 0, len(m.models)+1)
		names = append(names, "")
		for _, tag := range m.models {
			names = append(names, tag.Name)
		}
		m.sess.selectedModel = cycleString(names, m.sess.selectedModel, delta)
		m.sess = m.sess.setStatus(ternary(m.sess.selectedModel == "", "model override cleared", "model: "+m.sess.selectedModel))
		return nil
	case 7:
		m.sess.taskType = cycleString(taskTypes, m.sess.taskType, delta)
		m.sess = m.sess.setStatus("task type: " + m.sess.taskType)
		return nil
	}
	return nil
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxClientLogLines {
		m.logs = m.logs[len(m.logs)-maxClientLogLines:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + compactSingleLine(err.Error(), 200))
}

func main() {
	p := parsePrefs()
	opts := []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithReportFocus()}
	if p.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(newModel(p), opts...)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sidekick-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
