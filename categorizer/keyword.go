package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule lists the keywords that point at a category
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Rules is the structure of the keyword rules YAML file
type Rules struct {
	Categories []Rule `yaml:"categories"`
}

// LoadRules reads keyword rules from a YAML file
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes keyword rules from YAML
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	for _, rule := range rules.Categories {
		if strings.TrimSpace(rule.Name) == "" {
			return Rules{}, fmt.Errorf("rule without a category name")
		}
	}
	return rules, nil
}

// Keyword ranks the vocabulary by keyword hits in the item description.
// It needs no network access and is the default categorizer.
type Keyword struct {
	keywords map[string][]string
}

var _ Gateway = (*Keyword)(nil)

func NewKeyword(rules Rules) *Keyword {
	k := &Keyword{keywords: map[string][]string{}}
	for _, rule := range rules.Categories {
		for _, kw := range rule.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				k.keywords[rule.Name] = append(k.keywords[rule.Name], kw)
			}
		}
	}
	return k
}

func (k *Keyword) score(category, description string) int {
	score := 0
	for _, word := range strings.Fields(strings.ToLower(category)) {
		if len(word) > 2 && strings.Contains(description, word) {
			score++
		}
	}
	for _, kw := range k.keywords[category] {
		if strings.Contains(description, kw) {
			score += 2
		}
	}
	return score
}

func (k *Keyword) Suggest(ctx context.Context, req Request) (string, error) {
	description := strings.ToLower(req.Item.Description)
	ranked := make([]string, len(req.Categories))
	copy(ranked, req.Categories)
	scores := make(map[string]int, len(ranked))
	for _, c := range ranked {
		scores[c] = k.score(c, description)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	top := ranked[:min(2, len(ranked))]

	reasoning := fmt.Sprintf("No keywords matched %q; listing the first categories.", req.Item.Description)
	if len(top) > 0 && scores[top[0]] > 0 {
		reasoning = fmt.Sprintf("%q matched keywords for %s.", req.Item.Description, top[0])
	}
	data, err := json.Marshal(Suggestion{Reasoning: reasoning, TopTwo: top})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
