package categorizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

var vocabulary = []string{"Rent", "Consulting Income", "Refunds", "Software"}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   []string
		errMsg string
	}{
		{
			name: "plain json",
			raw:  `{"reasoning": "monthly lease", "top_two": ["Rent", "Software"]}`,
			want: []string{"Rent", "Software"},
		},
		{
			name: "fenced json with chatter",
			raw:  "Sure!\n```json\n{\"reasoning\": \"r\", \"top_two\": [\" Refunds \", \"Rent\"]}\n```",
			want: []string{"Refunds", "Rent"},
		},
		{
			name:   "not json",
			raw:    "I think it is rent",
			errMsg: "no JSON object",
		},
		{
			name:   "broken json",
			raw:    `{"reasoning": "r", "top_two": [`,
			errMsg: "no JSON object",
		},
		{
			name:   "one label",
			raw:    `{"reasoning": "r", "top_two": ["Rent"]}`,
			errMsg: "expected 2 labels, got 1",
		},
		{
			name:   "unknown label",
			raw:    `{"reasoning": "r", "top_two": ["Rent", "Travel"]}`,
			errMsg: `label "Travel" is not a known category`,
		},
		{
			name:   "duplicate label",
			raw:    `{"reasoning": "r", "top_two": ["Rent", "Rent"]}`,
			errMsg: "duplicate label",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.raw, vocabulary)
			if tt.errMsg != "" {
				require.ErrorIs(t, err, recon.ErrMalformedSuggestion)
				require.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, s.TopTwo)
		})
	}
}

func TestFallback(t *testing.T) {
	s := Fallback(vocabulary)
	require.Equal(t, []string{"Rent", "Consulting Income"}, s.TopTwo)
	require.Equal(t, FallbackReasoning, s.Reasoning)

	require.Equal(t, []string{"Rent"}, Fallback([]string{"Rent"}).TopTwo)
	require.Empty(t, Fallback(nil).TopTwo)
}

func TestPromptListsCategories(t *testing.T) {
	p := Prompt(Request{
		Item:       state.Item{Description: "Office Rent", Amount: decimal.NewFromInt(-1200)},
		Categories: vocabulary,
	})
	require.Contains(t, p, `"Office Rent", amount -1200`)
	require.Contains(t, p, "- Consulting Income\n")
	require.Contains(t, p, `"top_two"`)
}

func TestHTTPSuggest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var body struct {
			Prompt     string   `json:"prompt"`
			Categories []string `json:"categories"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, vocabulary, body.Categories)
		require.NotEmpty(t, body.Prompt)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"text": `{"reasoning": "lease", "top_two": ["Rent", "Software"]}`,
		})
	}))
	defer server.Close()

	c, err := NewHTTP(HTTPOptions{URL: server.URL, Token: "token", BaseWait: time.Millisecond})
	require.NoError(t, err)
	raw, err := c.Suggest(context.Background(), Request{
		Item:       state.Item{ID: 1, Description: "Office Rent", Amount: decimal.NewFromInt(-1200)},
		Categories: vocabulary,
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	s, err := Parse(raw, vocabulary)
	require.NoError(t, err)
	require.Equal(t, []string{"Rent", "Software"}, s.TopTwo)
}

func TestHTTPSuggestRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reasoning": "r", "top_two": ["Refunds", "Rent"]}`))
	}))
	defer server.Close()

	c, err := NewHTTP(HTTPOptions{URL: server.URL})
	require.NoError(t, err)
	raw, err := c.Suggest(context.Background(), Request{Categories: vocabulary})
	require.NoError(t, err)
	require.Contains(t, raw, "Refunds")
}

func TestHTTPSuggestUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := NewHTTP(HTTPOptions{URL: server.URL, MaxRetries: 2, BaseWait: time.Millisecond})
	require.NoError(t, err)
	_, err = c.Suggest(context.Background(), Request{Categories: vocabulary})
	require.True(t, errors.Is(err, recon.ErrGatewayUnavailable))
	require.Equal(t, int32(3), calls.Load())
}

func TestNewHTTPRequiresURL(t *testing.T) {
	_, err := NewHTTP(HTTPOptions{})
	require.ErrorContains(t, err, "categorizer url is required")
}

const rulesYAML = `
categories:
  - name: Rent
    keywords: [lease, landlord]
  - name: Software
    keywords: [github, saas, license]
  - name: Consulting Income
    keywords: [invoice, client payment]
`

func TestKeywordSuggest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))
	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules.Categories, 3)

	k := NewKeyword(rules)
	tests := []struct {
		description string
		want        []string
	}{
		{"GitHub SaaS license", []string{"Software", "Rent"}},
		{"Landlord lease December", []string{"Rent", "Consulting Income"}},
		{"Client payment for invoice 42", []string{"Consulting Income", "Rent"}},
		{"Office Rent", []string{"Rent", "Consulting Income"}},
		{"Unknown", []string{"Rent", "Consulting Income"}},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			raw, err := k.Suggest(context.Background(), Request{
				Item:       state.Item{Description: tt.description},
				Categories: vocabulary,
			})
			require.NoError(t, err)
			s, err := Parse(raw, vocabulary)
			require.NoError(t, err)
			require.Equal(t, tt.want, s.TopTwo)
		})
	}
}

func TestParseRulesRejectsUnnamedRule(t *testing.T) {
	_, err := ParseRules([]byte("categories:\n  - keywords: [x]\n"))
	require.ErrorContains(t, err, "rule without a category name")
}
