package judge

import (
	"context"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
)

// Human asks the operator for a verdict interactively. Used when `decay`
// runs without --auto.
type Human struct{}

// NewHuman creates an interactive judge.
func NewHuman() *Human {
	return &Human{}
}

func (h *Human) Name() string { return "human" }

// Judge prints the subject and prompts for a verdict selection. The
// context is ignored beyond the cancellation check: an operator at a
// terminal is never treated as a timeout.
func (h *Human) Judge(ctx context.Context, s Subject) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fmt.Fprintf(os.Stderr, "\nchallenged: %s [%s/%s]\n", s.ID, s.Kind, s.Scope)
	fmt.Fprintf(os.Stderr, "  %s\n", s.Summary)
	fmt.Fprintf(os.Stderr, "  age %dd, stale %dd, %d accesses, %d inbound links, trust %.2f\n",
		s.AgeDays, s.StaleDays, s.AccessCount, s.InboundLinks, s.TrustScore)

	sel := promptui.Select{
		Label: "Verdict",
		Items: []string{
			"defend — still matters, keep it",
			"merge — fold into a related unit",
			"decompose — archive (fossil)",
			"decompose — superseded (skeleton)",
			"decompose — discard",
		},
	}

	idx, _, err := sel.Run()
	if err != nil {
		// Operator bailed out (^C or closed stdin); preserve the unit.
		return nil, fmt.Errorf("%w: prompt: %v", ErrUnavailable, err)
	}

	switch idx {
	case 0:
		return &Verdict{Action: ActionDefend, Rationale: "operator defended"}, nil
	case 1:
		return &Verdict{Action: ActionMerge, Rationale: "operator merged"}, nil
	case 2:
		return &Verdict{Action: ActionDecompose, Disposal: "fossil", Rationale: "operator archived"}, nil
	case 3:
		return &Verdict{Action: ActionDecompose, Superseded: true, Rationale: "operator marked superseded"}, nil
	default:
		return &Verdict{Action: ActionDecompose, Disposal: "delete", Rationale: "operator discarded"}, nil
	}
}
