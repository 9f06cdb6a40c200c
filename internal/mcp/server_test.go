package mcp

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"

	"hintnav-mcp-server/internal/browser"
	"hintnav-mcp-server/internal/config"
	"hintnav-mcp-server/internal/facts"
	"hintnav-mcp-server/internal/settings"
)

func setupTestServerConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Name:    "test-server",
			Version: "1.0.0",
		},
		Facts: config.FactsConfig{
			Enable:          true,
			FactBufferLimit: 1000,
		},
	}
}

func setupTestEngine(t *testing.T) *facts.Engine {
	t.Helper()
	engine, err := facts.NewEngine(setupTestServerConfig().Facts, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func setupTestStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(afero.NewMemMapFs(), "/settings.yaml")
	if err != nil {
		t.Fatalf("Failed to open settings: %v", err)
	}
	return store
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := setupTestServerConfig()
	logger, _ := logtest.NewNullLogger()
	sessions := browser.NewSessionManager(cfg.Browser, logger)
	server, err := NewServer(cfg, sessions, setupTestEngine(t), setupTestStore(t), logger)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server
}

func TestNewServer(t *testing.T) {
	t.Run("creates server successfully", func(t *testing.T) {
		server := setupTestServer(t)
		if server.tools == nil || len(server.tools) == 0 {
			t.Fatal("expected tools to be registered")
		}
	})

	t.Run("requires dependencies", func(t *testing.T) {
		if _, err := NewServer(setupTestServerConfig(), nil, nil, nil, nil); err == nil {
			t.Error("expected error without dependencies")
		}
	})
}

func TestServerToolRegistration(t *testing.T) {
	server := setupTestServer(t)
	expected := []string{
		"list-sessions", "create-session", "attach-session", "launch-browser", "shutdown-browser",
		"attach-hints", "hit-hint", "remove-hints", "hint-state",
		"get-settings", "update-settings", "match-blacklist",
		"query-hint-facts", "read-hint-facts", "submit-hint-rule", "evaluate-hint-rule",
	}
	for _, name := range expected {
		if _, ok := server.tools[name]; !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
	if len(server.tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(server.tools))
	}

	for name, tool := range server.tools {
		t.Run(name, func(t *testing.T) {
			if tool.Description() == "" {
				t.Error("expected non-empty description")
			}
			schema := tool.InputSchema()
			if schema["type"] != "object" {
				t.Errorf("schema type = %v", schema["type"])
			}
			if _, err := json.Marshal(schema); err != nil {
				t.Errorf("schema not serializable: %v", err)
			}
		})
	}
}

func TestExecuteTool(t *testing.T) {
	server := setupTestServer(t)

	t.Run("unknown tool", func(t *testing.T) {
		if _, err := server.ExecuteTool("nonexistent-tool", nil); err == nil {
			t.Error("expected error for unknown tool")
		}
	})

	t.Run("list sessions", func(t *testing.T) {
		result, err := server.ExecuteTool("list-sessions", map[string]interface{}{})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		sessions := result.(map[string]interface{})["sessions"].([]sessionListing)
		if len(sessions) != 0 {
			t.Errorf("expected no sessions, got %d", len(sessions))
		}
	})
}

func TestWrapTool(t *testing.T) {
	server := setupTestServer(t)
	handler := server.wrapTool(server.tools["match-blacklist"])

	t.Run("error becomes tool result", func(t *testing.T) {
		res, err := handler(context.Background(), mcp.CallToolRequest{})
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !res.IsError {
			t.Error("expected IsError for missing url")
		}
	})

	t.Run("success payload is json", func(t *testing.T) {
		req := mcp.CallToolRequest{}
		req.Params.Arguments = map[string]interface{}{"url": "https://example.com/"}
		res, err := handler(context.Background(), req)
		if err != nil || res.IsError {
			t.Fatalf("handler = %+v, %v", res, err)
		}
		text := res.Content[0].(mcp.TextContent).Text
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			t.Fatalf("payload not json: %v", err)
		}
		if decoded["blacklisted"] != false {
			t.Errorf("payload = %v", decoded)
		}
	})
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("test-tool", map[string]interface{}{
		"bad": math.NaN(),
	})
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload should always be valid JSON: %v", err)
	}
	if success, _ := decoded["success"].(bool); success {
		t.Fatalf("expected success=false fallback payload, got %v", decoded)
	}
	if decoded["error"] == nil {
		t.Fatalf("expected fallback payload to include error, got %v", decoded)
	}
}

func TestResources(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "hintnav://settings"
	contents, err := server.handleSettingsResource(ctx, req)
	if err != nil {
		t.Fatalf("settings resource failed: %v", err)
	}
	var got settings.Settings
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got.Alphabet != settings.DefaultAlphabet {
		t.Errorf("alphabet = %q", got.Alphabet)
	}

	req.Params.URI = "hintnav://session/s1/hints"
	req.Params.Arguments = map[string]interface{}{"sessionId": "s1"}
	contents, err = server.handleSessionHintsResource(ctx, req)
	if err != nil {
		t.Fatalf("hints resource failed: %v", err)
	}
	var hints map[string]interface{}
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &hints); err != nil {
		t.Fatal(err)
	}
	if hints["phase"] != "idle" || hints["count"] != float64(0) {
		t.Errorf("hints = %v", hints)
	}

	req.Params.Arguments = map[string]interface{}{}
	if _, err := server.handleSessionHintsResource(ctx, req); err == nil {
		t.Error("expected error without sessionId")
	}
}
