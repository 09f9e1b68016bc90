package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// apiClient is the only way this program talks to the assistant backend. It
// knows nothing about transcripts or approvals; it moves JSON and raises
// typed failures.
type apiClient struct {
	baseURL string
	wsURL   string
	http    *http.Client
	dialer  *websocket.Dialer
}

func newAPIClient(baseURL string) *apiClient {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &apiClient{
		baseURL: trimmed,
		wsURL:   deriveWSURL(trimmed) + "/ws/chat",
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
	}
}

func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return "ws://" + baseURL
	}
}

// apiError carries the HTTP status and the raw error detail from a failed
// boundary call. The detail stays raw JSON so callers can probe it for
// structured payloads without this layer taking a position on their shape.
type apiError struct {
	status  int
	message string
	detail  json.RawMessage
}

func (e *apiError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("backend %d: %s", e.status, e.message)
	}
	return fmt.Sprintf("backend %d", e.status)
}

func (c *apiClient) request(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

// uploadAudio posts raw audio bytes as a multipart form, the shape the
// transcription endpoint expects.
func (c *apiClient) uploadAudio(ctx context.Context, path string, audio []byte, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "capture.wav")
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, path, out)
}

// requestBytes is for endpoints that answer with a binary body (synthesized
// speech).
func (c *apiClient) requestBytes(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s unreachable: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeFailure(resp.StatusCode, raw)
	}
	return raw, nil
}

func (c *apiClient) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFailure(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// decodeFailure turns a non-success response into an apiError. The backend
// wraps failures as {"detail": ...} where detail is either a human-readable
// string or a structured object.
func decodeFailure(status int, raw []byte) error {
	apiErr := &apiError{status: status}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		apiErr.detail = payload.Detail
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			apiErr.message = text
		}
	}
	if apiErr.message == "" {
		apiErr.message = http.StatusText(status)
	}
	return apiErr
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID    string        `json:"session_id,omitempty"`
	Messages     []chatMessage `json:"messages"`
	Model        string        `json:"model,omitempty"`
	TaskType     string        `json:"task_type,omitempty"`
	SpeedQuality *int          `json:"speed_quality,omitempty"`
	Stream       bool          `json:"stream"`
	UseRag       bool          `json:"use_rag"`
}

type chatResponse struct {
	Model       string `json:"model"`
	Content     string `json:"content"`
	RoutingRule string `json:"routing_rule"`
}

type modelTag struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

type modelsResp struct {
	Models []modelTag `json:"models"`
}

type transcribeResp struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type logEntry map[string]any

type logsResp struct {
	Entries []logEntry `json:"entries"`
}

type toolResult struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Error    string         `json:"error"`
	Metadata map[string]any `json:"metadata"`
}

type ragIngestResp struct {
	Indexed []string `json:"indexed"`
	Skipped []string `json:"skipped"`
}

type routeDecisionResp struct {
	Model    string `json:"model"`
	Rule     string `json:"rule"`
	TaskType string `json:"task_type"`
}

type ragSource struct {
	SourcePath string `json:"source_path"`
	Content    string `json:"content"`
}

// chatFrame is one discriminated message from the streaming channel.
type chatFrame struct {
	Type     string      `json:"type"`
	Content  string      `json:"content,omitempty"`
	Model    string      `json:"model,omitempty"`
	Rule     string      `json:"rule,omitempty"`
	TaskType string      `json:"task_type,omitempty"`
	Error    string      `json:"error,omitempty"`
	Sources  []ragSource `json:"sources,omitempty"`
}

const (
	frameToken   = "token"
	frameRouting = "routing"
	frameRag     = "rag"
	frameDone    = "done"
	frameError   = "error"
)

// chatChannel is one persistent channel serving exactly one conversational
// turn. Frames are delivered in arrival order through frames; the channel is
// closed when the remote side hangs up or the read loop fails. There is no
// retry and no reconnect.
type chatChannel struct {
	conn      *websocket.Conn
	frames    chan chatFrame
	closeOnce sync.Once
}

// openChannel dials the streaming endpoint and sends the turn payload as the
// first client-to-server message.
func (c *apiClient) openChannel(payload chatRequest) (*chatChannel, error) {
	conn, _, err := c.dialer.Dial(c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open chat channel: %w", err)
	}
	if err := conn.WriteJSON(payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send turn payload: %w", err)
	}
	ch := &chatChannel{conn: conn, frames: make(chan chatFrame, 64)}
	go ch.readLoop()
	return ch, nil
}

func (ch *chatChannel) readLoop() {
	defer close(ch.frames)
	for {
		var frame chatFrame
		if err := ch.conn.ReadJSON(&frame); err != nil {
			return
		}
		ch.frames <- frame
	}
}

func (ch *chatChannel) close() {
	ch.closeOnce.Do(func() {
		if ch.conn != nil {
			_ = ch.conn.Close()
		}
	})
}
