package mcp

import (
	"context"
	"fmt"
	"strings"

	"hintnav-mcp-server/internal/hint"
	"hintnav-mcp-server/internal/settings"
)

// GetSettingsTool returns the persisted hint settings.
type GetSettingsTool struct {
	store *settings.Store
}

func (t *GetSettingsTool) Name() string { return "get-settings" }
func (t *GetSettingsTool) Description() string {
	return `Read the hint settings: alphabet, URL blacklist and per-URL additional
clickable selectors.

Returns: {settings: {alphabet, blacklist, additional_selectors: [{url, selectors}]}}`
}
func (t *GetSettingsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetSettingsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"settings": t.store.Get()}, nil
}

// UpdateSettingsTool edits and persists the hint settings.
type UpdateSettingsTool struct {
	store *settings.Store
}

func (t *UpdateSettingsTool) Name() string { return "update-settings" }
func (t *UpdateSettingsTool) Description() string {
	return `Change the hint settings. Only the given fields change.

FIELDS:
- alphabet: letters used for labels, e.g. "ASDFGHJKL"
- blacklist: URL globs, one per line or as an array; '#' starts a comment line
- additional_selectors: [{url, selectors}] extra clickable CSS selectors on pages
  whose URL matches the glob

URL globs: '*' matches any run of characters including '/', '?' one character.
Invalid globs reject the whole update. Changes apply to the next attach-hints.

Returns: {settings}`
}
func (t *UpdateSettingsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"alphabet": map[string]interface{}{
				"type":        "string",
				"description": "Hint alphabet",
			},
			"blacklist": map[string]interface{}{
				"description": "URL globs, newline separated string or array",
			},
			"additional_selectors": map[string]interface{}{
				"type":        "array",
				"description": "Per-URL clickable selectors",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"url":       map[string]interface{}{"type": "string"},
						"selectors": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
					"required": []string{"url"},
				},
			},
		},
	}
}

func parseSelectorRules(raw interface{}) ([]settings.SelectorRule, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("additional_selectors must be an array")
	}
	rules := make([]settings.SelectorRule, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("additional_selectors[%d] must be an object", i)
		}
		url := getStringArg(m, "url")
		if url == "" {
			return nil, fmt.Errorf("additional_selectors[%d].url is required", i)
		}
		selectors, _ := getStringSliceArg(m, "selectors")
		rules = append(rules, settings.SelectorRule{URL: url, Selectors: selectors})
	}
	return rules, nil
}

func (t *UpdateSettingsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	var rules []settings.SelectorRule
	raw, hasRules := args["additional_selectors"]
	if hasRules {
		var err error
		if rules, err = parseSelectorRules(raw); err != nil {
			return nil, err
		}
	}
	blacklist, hasBlacklist := getStringSliceArg(args, "blacklist")
	_, hasAlphabet := args["alphabet"]
	alphabet := getStringArg(args, "alphabet")
	if hasAlphabet && len(hint.Letters(alphabet)) == 0 {
		return nil, fmt.Errorf("alphabet %q has no letters", alphabet)
	}

	err := t.store.Update(func(s *settings.Settings) {
		if hasAlphabet {
			s.Alphabet = alphabet
		}
		if hasBlacklist {
			s.Blacklist = strings.Join(blacklist, "\n")
		}
		if hasRules {
			s.AdditionalSelectors = rules
		}
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"settings": t.store.Get()}, nil
}

// MatchBlacklistTool reports the blacklist patterns a URL matches.
type MatchBlacklistTool struct {
	store *settings.Store
}

func (t *MatchBlacklistTool) Name() string { return "match-blacklist" }
func (t *MatchBlacklistTool) Description() string {
	return `Check a URL against the hint blacklist.

attach-hints refuses pages where this returns a match.

Returns: {url, blacklisted, patterns, additional_selectors}`
}
func (t *MatchBlacklistTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page URL to check",
			},
		},
		"required": []string{"url"},
	}
}
func (t *MatchBlacklistTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	patterns := t.store.MatchBlacklist(url)
	if patterns == nil {
		patterns = []string{}
	}
	selectors := t.store.MatchAdditionalSelectors(url)
	if selectors == nil {
		selectors = []string{}
	}
	return map[string]interface{}{
		"url":                  url,
		"blacklisted":          len(patterns) > 0,
		"patterns":             patterns,
		"additional_selectors": selectors,
	}, nil
}
