package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// approvalDecision is the structured detail a boundary call fails with when a
// sensitive action needs the user's sign-off. Scope is "<kind>:<identifier>".
type approvalDecision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	Scope            string `json:"scope"`
	RequiresApproval bool   `json:"requires_approval"`
}

const approvalOnceTTL = 10 * time.Minute

// approvalFromError reports whether a failed boundary call is really a
// permission denial. Any apiError whose detail decodes into the decision
// shape is intercepted; everything else stays a plain transport failure.
func approvalFromError(err error) (*approvalDecision, bool) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) || len(apiErr.detail) == 0 {
		return nil, false
	}
	var decision approvalDecision
	if json.Unmarshal(apiErr.detail, &decision) != nil {
		return nil, false
	}
	if decision.Scope == "" || !decision.RequiresApproval {
		return nil, false
	}
	return &decision, true
}

func splitScope(scope string) (kind, identifier string) {
	kind, identifier, _ = strings.Cut(scope, ":")
	return kind, identifier
}

// applyApprovalAlways appends the scope's identifier to the allowlist that
// matches its kind and reports whether any list was touched. Unrecognized
// kinds are a deliberate no-op: the document comes back unchanged.
func applyApprovalAlways(doc appConfigDoc, scope string) (appConfigDoc, bool) {
	kind, identifier := splitScope(scope)
	if identifier == "" {
		return doc, false
	}
	switch kind {
	case "file_read":
		doc.Permissions.FileReadAllowlist = appendCopy(doc.Permissions.FileReadAllowlist, identifier)
	case "file_write":
		doc.Permissions.FileWriteAllowlist = appendCopy(doc.Permissions.FileWriteAllowlist, identifier)
	case "terminal":
		doc.Permissions.TerminalAllowlist = appendCopy(doc.Permissions.TerminalAllowlist, identifier)
	case "skill":
		doc.Permissions.SkillsEnabled = appendCopy(doc.Permissions.SkillsEnabled, identifier)
	default:
		return doc, false
	}
	return doc, true
}

func appendCopy(list []string, value string) []string {
	out := make([]string, len(list), len(list)+1)
	copy(out, list)
	return append(out, value)
}

type approvalPostedMsg struct {
	scope string
	err   error
}

// approveOnceCmd registers an ephemeral grant with the backend. It never
// touches the config document; the grant simply expires.
func approveOnceCmd(client *apiClient, scope string) tea.Cmd {
	expiresAt := time.Now().Add(approvalOnceTTL).UTC().Format(time.RFC3339)
	return func() tea.Msg {
		payload := map[string]string{"scope": scope, "expires_at": expiresAt}
		err := client.request(context.Background(), http.MethodPost, "/approvals", payload, nil)
		return approvalPostedMsg{scope: scope, err: err}
	}
}
