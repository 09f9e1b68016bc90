package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// captureState names the push-to-talk pipeline's states.
type captureState int

const (
	captureIdle captureState = iota
	captureRecording
	captureTranscribing
	captureDenied
)

func (s captureState) String() string {
	switch s {
	case captureIdle:
		return "idle"
	case captureRecording:
		return "recording"
	case captureTranscribing:
		return "transcribing"
	case captureDenied:
		return "denied"
	default:
		return "unknown"
	}
}

type captureEvent int

const (
	captureEvGranted captureEvent = iota // device acquired, buffering begins
	captureEvDenied                      // device refused
	captureEvStopped                     // buffer assembled, device released
	captureEvSubmitOK
	captureEvSubmitErr
	captureEvReset
)

// nextCaptureState is the pipeline's transition table. Anything not listed
// keeps the current state; in particular no event moves a denied pipeline
// into recording.
func nextCaptureState(state captureState, event captureEvent) captureState {
	switch state {
	case captureIdle:
		switch event {
		case captureEvGranted:
			return captureRecording
		case captureEvDenied:
			return captureDenied
		}
	case captureRecording:
		if event == captureEvStopped {
			return captureTranscribing
		}
	case captureTranscribing:
		if event == captureEvSubmitOK || event == captureEvSubmitErr {
			return captureIdle
		}
	case captureDenied:
		if event == captureEvReset {
			return captureIdle
		}
	}
	return state
}

// errRecorderActive distinguishes a redundant start from a device denial.
var errRecorderActive = errors.New("recorder already active")

// recorder owns the audio device for the duration of one recording session.
// stop must release the device on every path, error or not.
type recorder interface {
	start() error
	stop() ([]byte, error)
}

// execRecorder acquires the microphone by spawning an external capture
// command that writes WAV to stdout, buffered entirely in memory.
type execRecorder struct {
	command string

	mu  sync.Mutex
	cmd *exec.Cmd
	buf *bytes.Buffer
}

func newExecRecorder(command string) *execRecorder {
	return &execRecorder{command: command}
}

func (r *execRecorder) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return errRecorderActive
	}
	parts := splitCommand(r.command)
	if len(parts) == 0 {
		return errors.New("no record command configured")
	}
	buf := &bytes.Buffer{}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = buf
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("microphone unavailable: %w", err)
	}
	r.cmd = cmd
	r.buf = buf
	return nil
}

func (r *execRecorder) stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil, errors.New("recorder not active")
	}
	cmd := r.cmd
	buf := r.buf
	r.cmd = nil
	r.buf = nil
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	audio := buf.Bytes()
	if len(audio) == 0 {
		if waitErr != nil {
			return nil, fmt.Errorf("recorder exited: %w", waitErr)
		}
		return nil, errors.New("no audio captured")
	}
	return audio, nil
}

type captureStartedMsg struct {
	err error
}

type captureStoppedMsg struct {
	audio []byte
	err   error
}

type transcribedMsg struct {
	text string
	err  error
}

func startCaptureCmd(rec recorder) tea.Cmd {
	return func() tea.Msg {
		return captureStartedMsg{err: rec.start()}
	}
}

func stopCaptureCmd(rec recorder) tea.Cmd {
	return func() tea.Msg {
		audio, err := rec.stop()
		return captureStoppedMsg{audio: audio, err: err}
	}
}

func transcribeCmd(client *apiClient, audio []byte) tea.Cmd {
	return func() tea.Msg {
		var resp transcribeResp
		if err := client.uploadAudio(context.Background(), "/voice/transcribe", audio, &resp); err != nil {
			return transcribedMsg{err: err}
		}
		return transcribedMsg{text: strings.TrimSpace(resp.Text)}
	}
}
