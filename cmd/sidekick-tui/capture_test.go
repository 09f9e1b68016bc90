package main

import (
	"errors"
	"testing"
)

func TestCaptureHappyPath(t *testing.T) {
	state := captureIdle
	state = nextCaptureState(state, captureEvGranted)
	if state != captureRecording {
		t.Fatalf("after grant: %v", state)
	}
	state = nextCaptureState(state, captureEvStopped)
	if state != captureTranscribing {
		t.Fatalf("after stop: %v", state)
	}
	state = nextCaptureState(state, captureEvSubmitOK)
	if state != captureIdle {
		t.Fatalf("after submit: %v", state)
	}
}

func TestCaptureDeniedNeverRecords(t *testing.T) {
	state := nextCaptureState(captureIdle, captureEvDenied)
	if state != captureDenied {
		t.Fatalf("after denial: %v", state)
	}
	for _, event := range []captureEvent{captureEvGranted, captureEvStopped, captureEvSubmitOK, captureEvSubmitErr} {
		if next := nextCaptureState(captureDenied, event); next == captureRecording {
			t.Fatalf("event %v moved denied into recording", event)
		}
	}
	if next := nextCaptureState(captureDenied, captureEvReset); next != captureIdle {
		t.Fatalf("reset from denied: %v", next)
	}
}

func TestCaptureUnlistedEventsHoldState(t *testing.T) {
	cases := []struct {
		state captureState
		event captureEvent
	}{
		{captureIdle, captureEvStopped},
		{captureIdle, captureEvSubmitOK},
		{captureRecording, captureEvGranted},
		{captureRecording, captureEvSubmitOK},
		{captureTranscribing, captureEvGranted},
		{captureTranscribing, captureEvStopped},
	}
	for _, tc := range cases {
		if next := nextCaptureState(tc.state, tc.event); next != tc.state {
			t.Fatalf("%v + %v = %v, want unchanged", tc.state, tc.event, next)
		}
	}
}

func TestCaptureFailedSubmitReturnsToIdle(t *testing.T) {
	if next := nextCaptureState(captureTranscribing, captureEvSubmitErr); next != captureIdle {
		t.Fatalf("failed submit: %v", next)
	}
}

// fakeRecorder tracks device ownership the way the capture pipeline must: at
// most one active session, always released by stop.
type fakeRecorder struct {
	active   bool
	stops    int
	audio    []byte
	startErr error
	stopErr  error
}

func (f *fakeRecorder) start() error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return errors.New("double start")
	}
	f.active = true
	return nil
}

func (f *fakeRecorder) stop() ([]byte, error) {
	f.active = false
	f.stops++
	return f.audio, f.stopErr
}

func TestStartCaptureCmdReportsDenial(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("microphone unavailable")}
	msg := startCaptureCmd(rec)()
	started, ok := msg.(captureStartedMsg)
	if !ok {
		t.Fatalf("message type %T", msg)
	}
	if started.err == nil {
		t.Fatalf("denial must surface as an error")
	}
}

func TestStopCaptureCmdAlwaysReleasesDevice(t *testing.T) {
	rec := &fakeRecorder{audio: []byte("RIFF...wav"), stopErr: errors.New("short read")}
	if err := rec.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	msg := stopCaptureCmd(rec)()
	stopped, ok := msg.(captureStoppedMsg)
	if !ok {
		t.Fatalf("message type %T", msg)
	}
	if stopped.err == nil {
		t.Fatalf("stop error must propagate")
	}
	if rec.active {
		t.Fatalf("device still held after stop")
	}
	if rec.stops != 1 {
		t.Fatalf("stop called %d times", rec.stops)
	}
}

func TestRedundantStartKeepsRecording(t *testing.T) {
	m := testModel()
	m.captureState = captureRecording
	next, _ := m.Update(captureStartedMsg{err: errRecorderActive})
	m = next.(model)
	if m.captureState != captureRecording {
		t.Fatalf("redundant start moved the pipeline to %v", m.captureState)
	}
	if m.sess.statusLine != "already recording" {
		t.Fatalf("status = %q", m.sess.statusLine)
	}
}

func TestExecRecorderRejectsDoubleStart(t *testing.T) {
	// A command that surely exists and blocks on stdin.
	rec := newExecRecorder("cat")
	if err := rec.start(); err != nil {
		t.Skipf("cannot spawn cat: %v", err)
	}
	if err := rec.start(); !errors.Is(err, errRecorderActive) {
		t.Fatalf("second start while active = %v, want errRecorderActive", err)
	}
	if _, err := rec.stop(); err == nil {
		// cat with no input produces no audio bytes; an error is expected.
		t.Fatalf("empty capture should error")
	}
	if rec.cmd != nil {
		t.Fatalf("process handle not cleared after stop")
	}
}

func TestExecRecorderStopWithoutStart(t *testing.T) {
	rec := newExecRecorder("cat")
	if _, err := rec.stop(); err == nil {
		t.Fatalf("stop on inactive recorder must fail")
	}
}

func TestExecRecorderEmptyCommand(t *testing.T) {
	rec := newExecRecorder("   ")
	if err := rec.start(); err == nil {
		t.Fatalf("blank record command must fail to start")
	}
}
