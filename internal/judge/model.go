package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// completer is the raw text-completion contract shared by the model
// backends.
type completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// modelJudge adapts a text-completion backend into a Judge by prompting
// for a JSON verdict and parsing it. Anything unparseable degrades to
// ErrUnavailable so the challenger's fail-safe takes over.
type modelJudge struct {
	c        completer
	provider string
}

func newModelJudge(c completer, provider string) *modelJudge {
	return &modelJudge{c: c, provider: provider}
}

func (m *modelJudge) Name() string { return m.provider }

func (m *modelJudge) Judge(ctx context.Context, s Subject) (*Verdict, error) {
	content, err := m.c.Complete(ctx, ChallengePrompt(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, m.provider, err)
	}

	v, err := parseVerdict(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, m.provider, err)
	}
	return v, nil
}

// parseVerdict extracts the JSON verdict object from a model response,
// tolerating markdown fences and surrounding prose.
func parseVerdict(content string) (*Verdict, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	v.Action = strings.ToLower(strings.TrimSpace(v.Action))
	switch v.Action {
	case ActionDefend, ActionMerge, ActionDecompose:
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown verdict %q", v.Action)
	}
}
