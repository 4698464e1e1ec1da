package pipeline

import (
	"fmt"
	"strings"
)

// Export renders the session as the plain-text listing file.
func (s *Session) Export() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", s.product.Name)
	fmt.Fprintf(&b, "Category: %s\n", s.product.Category)
	if len(s.history) > 0 {
		fmt.Fprintf(&b, "Feedback Rounds: %d\n", len(s.history))
		for i, fb := range s.history {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, fb)
		}
	}

	fmt.Fprintf(&b, "\n[Title] - %d chars\n", runeLen(s.draft.Title))
	b.WriteString(s.draft.Title)
	b.WriteString("\n")

	lengths := make([]string, 0, len(s.draft.BulletPoints))
	for _, bp := range s.draft.BulletPoints {
		lengths = append(lengths, fmt.Sprint(runeLen(bp)))
	}
	if len(lengths) == 0 {
		b.WriteString("\n[Bullet Points]\n")
	} else {
		fmt.Fprintf(&b, "\n[Bullet Points] - %s chars\n", strings.Join(lengths, ", "))
	}
	for i, bp := range s.draft.BulletPoints {
		fmt.Fprintf(&b, "%d. %s\n", i+1, bp)
	}

	fmt.Fprintf(&b, "\n[Description] - %d chars\n", runeLen(s.draft.Description))
	b.WriteString(s.draft.Description)
	b.WriteString("\n")

	b.WriteString("\n[Unused Keywords]\n")
	b.WriteString(strings.Join(s.Unused(), ", "))
	b.WriteString("\n")
	return b.String()
}
