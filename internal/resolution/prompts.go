package resolution

import (
	"fmt"
	"strings"

	"constitutional-gov/pkg/types"
)

// mergePrompt asks the oracle to produce a single policy text that
// satisfies both sides of an inconsistency.
func mergePrompt(conflict *types.Conflict, policies []types.Policy) string {
	var b strings.Builder
	b.WriteString("Two governance policies conflict. Produce one merged policy text that preserves the intent of both.\n\n")
	b.WriteString("Conflict: ")
	b.WriteString(conflict.Description)
	b.WriteString("\n\n")
	for _, p := range policiesByID(policies, conflict.PolicyIDs) {
		fmt.Fprintf(&b, "Policy %s (%s): %s\n", p.ID, p.Name, p.Description)
	}
	b.WriteString("\nReturn only the merged policy text.")
	return b.String()
}

// clarificationPrompt asks the oracle to restate ambiguous principle
// language precisely.
func clarificationPrompt(conflict *types.Conflict, principles []types.Principle) string {
	var b strings.Builder
	b.WriteString("A constitutional principle uses ambiguous language. Rewrite it so its obligations are unambiguous, preserving intent.\n\n")
	b.WriteString("Ambiguity: ")
	b.WriteString(conflict.Description)
	b.WriteString("\n\n")
	for _, p := range principlesByID(principles, conflict.PrincipleIDs) {
		fmt.Fprintf(&b, "Principle %s (%s): %s\n", p.ID, p.Title, p.Description)
	}
	b.WriteString("\nReturn only the clarified principle text.")
	return b.String()
}

func policiesByID(policies []types.Policy, ids []string) []types.Policy {
	var out []types.Policy
	for _, id := range ids {
		for i := range policies {
			if policies[i].ID == id {
				out = append(out, policies[i])
				break
			}
		}
	}
	return out
}

func principlesByID(principles []types.Principle, ids []string) []types.Principle {
	var out []types.Principle
	for _, id := range ids {
		for i := range principles {
			if principles[i].ID == id {
				out = append(out, principles[i])
				break
			}
		}
	}
	return out
}
