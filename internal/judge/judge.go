// Package judge is the dispatch boundary for challenge verdicts. The
// lifecycle engine asks a Judge whether a decay candidate still matters;
// providers range from an interactive human prompt to local and remote
// model backends, selected under a sensitivity policy.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/reef/internal/config"
)

// Verdict actions.
const (
	ActionDefend    = "defend"
	ActionMerge     = "merge"
	ActionDecompose = "decompose"
)

// ErrUnavailable reports that a judgment provider failed or timed out.
// The challenger absorbs it into a Defend verdict; it never reaches the
// user as a hard failure.
var ErrUnavailable = errors.New("judge unavailable")

// Subject is the unit under challenge, flattened to what a judge needs.
type Subject struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Scope        string  `json:"scope"`
	Summary      string  `json:"summary"`
	Content      string  `json:"content"`
	AgeDays      int     `json:"age_days"`
	StaleDays    int     `json:"stale_days"`
	AccessCount  int     `json:"access_count"`
	InboundLinks int     `json:"inbound_links"`
	TrustScore   float64 `json:"trust_score"`
}

// Verdict is a judge's ruling on a challenged unit.
type Verdict struct {
	Action     string `json:"verdict"`
	Superseded bool   `json:"superseded,omitempty"` // decompose only: contradicted, keep links but drop content
	Disposal   string `json:"disposal,omitempty"`   // decompose only: "fossil" or "delete"; empty lets the engine decide
	Rationale  string `json:"rationale,omitempty"`
}

// Judge decides whether a challenged unit still matters.
type Judge interface {
	Judge(ctx context.Context, s Subject) (*Verdict, error)
	Name() string
}

// New creates a judge based on the config provider setting.
func New(cfg config.JudgeConfig) (Judge, error) {
	switch cfg.Provider {
	case "human":
		return NewHuman(), nil
	case "local-cli":
		model := cfg.Model
		if model == "" {
			model = "haiku"
		}
		return newModelJudge(newClaudeCLI(model), "local-cli"), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return newModelJudge(newAnthropic(cfg.AnthropicKey, model), "anthropic"), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return newModelJudge(newOllama(url, model), "ollama"), nil
	case "mock":
		return &Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown judge provider: %q", cfg.Provider)
	}
}

// localProviders may see sensitive content; remote ones may not.
var localProviders = map[string]bool{
	"human":     true,
	"local-cli": true,
	"ollama":    true,
	"mock":      true,
}

// Router applies the sensitivity policy: subjects whose content carries a
// sensitive marker are only ever dispatched to a local judge.
type Router struct {
	Default Judge
	Local   Judge
	Markers []string
}

// NewRouter builds the configured default judge plus a local fallback for
// sensitive subjects. When the default provider is already local, it
// serves both roles.
func NewRouter(cfg config.JudgeConfig) (*Router, error) {
	def, err := New(cfg)
	if err != nil {
		return nil, err
	}

	local := def
	if !localProviders[cfg.Provider] {
		localCfg := cfg
		localCfg.Provider = "local-cli"
		local, err = New(localCfg)
		if err != nil {
			return nil, err
		}
	}

	return &Router{Default: def, Local: local, Markers: cfg.SensitiveMarkers}, nil
}

// Judge dispatches to the local judge for sensitive subjects, otherwise to
// the default.
func (r *Router) Judge(ctx context.Context, s Subject) (*Verdict, error) {
	if r.sensitive(s) {
		return r.Local.Judge(ctx, s)
	}
	return r.Default.Judge(ctx, s)
}

// Name implements Judge.
func (r *Router) Name() string {
	return "router(" + r.Default.Name() + ")"
}

func (r *Router) sensitive(s Subject) bool {
	text := strings.ToLower(s.Summary + " " + s.Content)
	for _, m := range r.Markers {
		if m != "" && strings.Contains(text, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
