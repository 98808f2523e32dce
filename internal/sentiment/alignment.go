package sentiment

import (
	"fmt"
	"strings"
)

// Alignment is a D&D-style classification of a message. Higher values are
// "better", so ordering by value sorts good to evil.
type Alignment int

const (
	AlignmentUnknown Alignment = iota
	ChaoticEvil
	NeutralEvil
	LawfulEvil
	ChaoticNeutral
	TrueNeutral
	LawfulNeutral
	ChaoticGood
	NeutralGood
	LawfulGood
)

var alignmentInfo = map[Alignment]struct{ name, display, emoji string }{
	LawfulGood:     {"LawfulGood", "Lawful Good", "⚖️"},
	NeutralGood:    {"NeutralGood", "Neutral Good", "🕊️"},
	ChaoticGood:    {"ChaoticGood", "Chaotic Good", "🌟"},
	LawfulNeutral:  {"LawfulNeutral", "Lawful Neutral", "📜"},
	TrueNeutral:    {"TrueNeutral", "True Neutral", "🌿"},
	ChaoticNeutral: {"ChaoticNeutral", "Chaotic Neutral", "🎲"},
	LawfulEvil:     {"LawfulEvil", "Lawful Evil", "👑"},
	NeutralEvil:    {"NeutralEvil", "Neutral Evil", "🗡️"},
	ChaoticEvil:    {"ChaoticEvil", "Chaotic Evil", "🔥"},
}

// AllAlignments lists the known alignments from good to evil.
func AllAlignments() []Alignment {
	return []Alignment{LawfulGood, NeutralGood, ChaoticGood, LawfulNeutral, TrueNeutral,
		ChaoticNeutral, LawfulEvil, NeutralEvil, ChaoticEvil}
}

// String returns the schema name, e.g. "LawfulGood".
func (a Alignment) String() string {
	if info, ok := alignmentInfo[a]; ok {
		return info.name
	}
	return "Unknown"
}

// DisplayName returns the human form, e.g. "Lawful Good".
func (a Alignment) DisplayName() string {
	if info, ok := alignmentInfo[a]; ok {
		return info.display
	}
	return "Unknown"
}

// Emoji returns the alignment's emoji.
func (a Alignment) Emoji() string {
	if info, ok := alignmentInfo[a]; ok {
		return info.emoji
	}
	return "❓"
}

// ParseAlignment accepts "LawfulGood", "lawful good", "lawful_good" and
// similar spellings.
func ParseAlignment(s string) (Alignment, error) {
	norm := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for a, info := range alignmentInfo {
		if strings.ToLower(info.name) == norm {
			return a, nil
		}
	}
	if norm == "neutral" {
		return TrueNeutral, nil
	}
	return AlignmentUnknown, fmt.Errorf("sentiment: unknown alignment %q", s)
}
