package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// appConfigDoc mirrors the backend's settings document. The client edits a
// handful of sections; everything else is kept as raw JSON so a full-document
// save never drops server-side data it does not understand.
type appConfigDoc struct {
	OllamaBaseURL string             `json:"ollama_base_url,omitempty"`
	Routing       routingSection     `json:"routing"`
	Permissions   permissionsSection `json:"permissions"`
	Rag           ragSection         `json:"rag"`
	Voice         voiceSection       `json:"voice"`
	Dreams        json.RawMessage    `json:"dreams,omitempty"`
	Reflections   json.RawMessage    `json:"reflections,omitempty"`
	Audit         json.RawMessage    `json:"audit,omitempty"`
	Prompts       json.RawMessage    `json:"prompts,omitempty"`
}

type routerRule struct {
	Name          string   `json:"name"`
	TaskType      string   `json:"task_type"`
	MinQuality    int      `json:"min_quality"`
	MaxQuality    int      `json:"max_quality"`
	Model         string   `json:"model"`
	FallbackModel *string  `json:"fallback_model"`
	MatchKeywords []string `json:"match_keywords,omitempty"`
	MaxContext    *int     `json:"max_context,omitempty"`
}

type routingSection struct {
	SpeedQuality *int         `json:"speed_quality,omitempty"`
	Rules        []routerRule `json:"rules"`
	DefaultModel *string      `json:"default_model"`
}

type permissionsSection struct {
	ToolsEnabled       bool     `json:"tools_enabled"`
	FileReadAllowlist  []string `json:"file_read_allowlist"`
	FileWriteAllowlist []string `json:"file_write_allowlist"`
	TerminalEnabled    bool     `json:"terminal_enabled"`
	TerminalAllowlist  []string `json:"terminal_allowlist"`
	SkillsEnabled      []string `json:"skills_enabled"`
	RequireApproval    *bool    `json:"require_approval,omitempty"`
}

type ragSection struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	ChunkSize      int    `json:"chunk_size,omitempty"`
	ChunkOverlap   int    `json:"chunk_overlap,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
	EmbeddingDim   int    `json:"embedding_dim,omitempty"`
}

type voiceSection struct {
	Enabled         bool    `json:"enabled"`
	HandsFree       bool    `json:"hands_free"`
	WakeWordEnabled bool    `json:"wake_word_enabled"`
	PiperPath       *string `json:"piper_path"`
	PiperModel      *string `json:"piper_model"`
}

// withConfigDefaults fills the optional fields whose absence means something
// other than the zero value. Done once when a snapshot is installed, so no
// consumer ever needs an or-default expression.
func withConfigDefaults(doc appConfigDoc) appConfigDoc {
	if doc.Rag.Enabled == nil {
		doc.Rag.Enabled = boolPtr(true)
	}
	if doc.Routing.SpeedQuality == nil {
		doc.Routing.SpeedQuality = intPtr(50)
	}
	if doc.Permissions.RequireApproval == nil {
		doc.Permissions.RequireApproval = boolPtr(true)
	}
	return doc
}

func renderRouterRules(rules []routerRule) string {
	if len(rules) == 0 {
		return "[]"
	}
	raw, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// parseRouterRules validates the raw rule text immediately before a save. A
// failure here aborts the save locally; the caller keeps the unparsed text.
func parseRouterRules(text string) ([]routerRule, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []routerRule{}, nil
	}
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	var rules []routerRule
	if err := decoder.Decode(&rules); err != nil {
		return nil, fmt.Errorf("routing rules must be a JSON array: %w", err)
	}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, fmt.Errorf("rule %d: name is required", i+1)
		}
		if strings.TrimSpace(rule.Model) == "" {
			return nil, fmt.Errorf("rule %q: model is required", rule.Name)
		}
		if rule.MinQuality > rule.MaxQuality {
			return nil, fmt.Errorf("rule %q: min_quality exceeds max_quality", rule.Name)
		}
	}
	return rules, nil
}

type initDoneMsg struct {
	doc    appConfigDoc
	models []modelTag
	err    error
}

type configSavedMsg struct {
	doc           appConfigDoc
	status        string
	clearApproval bool
	err           error
}

type modelsMsg struct {
	models []modelTag
	err    error
}

// loadStartupCmd fetches the config snapshot and the model catalog once at
// startup. The document fetch is the one that matters; a missing catalog just
// leaves the picker empty.
func loadStartupCmd(client *apiClient) tea.Cmd {
	return func() tea.Msg {
		var doc appConfigDoc
		if err := client.request(context.Background(), http.MethodGet, "/config", nil, &doc); err != nil {
			return initDoneMsg{err: err}
		}
		var models modelsResp
		_ = client.request(context.Background(), http.MethodGet, "/models", nil, &models)
		return initDoneMsg{doc: doc, models: models.Models}
	}
}

func refreshModelsCmd(client *apiClient) tea.Cmd {
	return func() tea.Msg {
		var models modelsResp
		if err := client.request(context.Background(), http.MethodGet, "/models", nil, &models); err != nil {
			return modelsMsg{err: err}
		}
		return modelsMsg{models: models.Models}
	}
}

// saveConfigCmd performs the single write funnel for the settings document:
// submit the whole document, adopt whatever the server hands back.
func saveConfigCmd(client *apiClient, doc appConfigDoc, status string, clearApproval bool) tea.Cmd {
	return func() tea.Msg {
		var saved appConfigDoc
		if err := client.request(context.Background(), http.MethodPost, "/config", doc, &saved); err != nil {
			return configSavedMsg{err: err}
		}
		return configSavedMsg{doc: saved, status: status, clearApproval: clearApproval}
	}
}
