package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"hintnav-mcp-server/internal/hint"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"hintnav://about",
			"HintNav About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and the hint workflow."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"hintnav://settings",
			"Hint Settings",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Alphabet, URL blacklist and additional selectors."),
		),
		s.handleSettingsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"hintnav://session/{sessionId}/hints{?state}",
			"Session Hints",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Targets of a session's hint session, optionally filtered by state."),
		),
		s.handleSessionHintsResource,
	)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Workflow: launch-browser, create-session, attach-hints, hit-hint, remove-hints.",
			"Resources are read-only; use tools for actions and settings changes.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleSettingsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, s.store.Get())
}

func (s *Server) handleSessionHintsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	state := argString(request.Params.Arguments["state"])

	phase := hint.Idle.String()
	targets := []hint.Target{}
	if hs, ok := s.sessions.Hints(sessionID); ok {
		phase = hs.Manager.Phase().String()
		targets = filterTargets(hs.Manager.Targets(), state)
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"phase":      phase,
		"state":      state,
		"count":      len(targets),
		"targets":    targets,
	})
}

func filterTargets(targets []hint.Target, state string) []hint.Target {
	out := make([]hint.Target, 0, len(targets))
	for _, t := range targets {
		if state != "" && t.State.String() != state {
			continue
		}
		out = append(out, t)
	}
	return out
}
