package judge

import (
	"context"
	"time"
)

// Mock is a test double for the Judge interface. It can also back
// dry-run mode, where every verdict is a Defend.
type Mock struct {
	Verdict *Verdict
	Err     error
	Delay   time.Duration // simulates a slow provider; honors ctx cancellation
	Calls   []Subject     // records subjects judged
}

func (m *Mock) Name() string { return "mock" }

// Judge records the call and returns the mock verdict.
func (m *Mock) Judge(ctx context.Context, s Subject) (*Verdict, error) {
	m.Calls = append(m.Calls, s)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Verdict != nil {
		return m.Verdict, nil
	}
	return &Verdict{Action: ActionDefend, Rationale: "mock default"}, nil
}
