package mcp

import (
	"context"
	"testing"

	"hintnav-mcp-server/internal/settings"
)

func TestUpdateSettingsTool(t *testing.T) {
	store := setupTestStore(t)
	tool := &UpdateSettingsTool{store: store}
	ctx := context.Background()

	t.Run("partial update keeps other fields", func(t *testing.T) {
		_, err := tool.Execute(ctx, map[string]interface{}{
			"blacklist": []interface{}{"https://mail.example.com/*", "# comment"},
		})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		got := store.Get()
		if got.Alphabet != settings.DefaultAlphabet {
			t.Errorf("alphabet changed to %q", got.Alphabet)
		}
		if m := store.MatchBlacklist("https://mail.example.com/inbox"); len(m) != 1 {
			t.Errorf("blacklist match = %v", m)
		}
	})

	t.Run("selectors and alphabet", func(t *testing.T) {
		result, err := tool.Execute(ctx, map[string]interface{}{
			"alphabet": "JKL",
			"additional_selectors": []interface{}{
				map[string]interface{}{"url": "https://app.test/*", "selectors": []interface{}{".row", "[data-click]"}},
			},
		})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		got := result.(map[string]interface{})["settings"].(settings.Settings)
		if got.Alphabet != "JKL" || len(got.AdditionalSelectors) != 1 {
			t.Errorf("settings = %+v", got)
		}
		if sel := store.MatchAdditionalSelectors("https://app.test/list"); len(sel) != 2 {
			t.Errorf("selectors = %v", sel)
		}
	})

	t.Run("invalid input is rejected", func(t *testing.T) {
		bad := []map[string]interface{}{
			{"additional_selectors": "not-an-array"},
			{"additional_selectors": []interface{}{"not-an-object"}},
			{"additional_selectors": []interface{}{map[string]interface{}{"selectors": []interface{}{"a"}}}},
			{"blacklist": "https://["},
			{"alphabet": ""},
			{"alphabet": "  "},
		}
		for _, args := range bad {
			if _, err := tool.Execute(ctx, args); err == nil {
				t.Errorf("expected error for %v", args)
			}
		}
		if store.Get().Alphabet != "JKL" {
			t.Error("rejected update leaked into the store")
		}
	})
}

func TestMatchBlacklistTool(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Update(func(s *settings.Settings) { s.Blacklist = "https://twitter.com/*/status/*" }); err != nil {
		t.Fatal(err)
	}
	tool := &MatchBlacklistTool{store: store}
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]interface{}{}); err == nil {
		t.Error("expected error without url")
	}

	result, err := tool.Execute(ctx, map[string]interface{}{"url": "https://twitter.com/someone/status/1"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	m := result.(map[string]interface{})
	if m["blacklisted"] != true || len(m["patterns"].([]string)) != 1 {
		t.Errorf("result = %v", m)
	}

	result, _ = tool.Execute(ctx, map[string]interface{}{"url": "https://twitter.com/home"})
	if m := result.(map[string]interface{}); m["blacklisted"] != false {
		t.Errorf("result = %v", m)
	}
}

func TestGetSettingsTool(t *testing.T) {
	tool := &GetSettingsTool{store: setupTestStore(t)}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := result.(map[string]interface{})["settings"].(settings.Settings); got.Alphabet != settings.DefaultAlphabet {
		t.Errorf("settings = %+v", got)
	}
}
