package judge

import "fmt"

// ChallengePrompt builds the adversarial justification prompt for a unit
// under decay challenge.
func ChallengePrompt(s Subject) string {
	return fmt.Sprintf(`You are auditing an AI assistant's long-term memory. The record below has
gone stale and is being challenged: argue whether it still matters.

RECORD:
  id:            %s
  kind:          %s
  scope:         %s
  age:           %d days (stale for %d days)
  accesses:      %d
  inbound links: %d
  trust:         %.2f
  summary:       %s

CONTENT:
%s

Rule on the record with exactly one verdict:
- "defend": it is still relevant and should be kept as-is
- "merge": its useful content belongs inside a related record instead
- "decompose": it has decayed; archive or discard it. Set "superseded"
  to true only if it was contradicted or replaced by newer knowledge.

Bias toward "defend" when uncertain — wrongly forgetting is worse than
keeping.

Return ONLY a JSON object, no other text:
{"verdict": "defend|merge|decompose", "superseded": false, "rationale": "one sentence"}`,
		s.ID, s.Kind, s.Scope, s.AgeDays, s.StaleDays, s.AccessCount, s.InboundLinks, s.TrustScore,
		s.Summary, s.Content)
}
