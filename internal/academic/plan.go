package academic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPlan indicates a chapter plan with no sections.
var ErrEmptyPlan = errors.New("chapter plan has no sections")

// SectionPlan describes one section of a chapter. Tables selects the
// structured tables this section draws on; buckets are not per-section,
// every section queries all of the project's buckets.
type SectionPlan struct {
	Title       string   `json:"title"`
	Argument    string   `json:"argument"`
	Outline     string   `json:"outline"`
	Approach    string   `json:"approach"`
	Tone        string   `json:"tone"`
	TargetWords int      `json:"target_words"`
	BuildsOn    string   `json:"builds_on"`
	SetsUp      string   `json:"sets_up"`
	Tables      []string `json:"tables"`
}

// ChapterPlan describes a whole chapter. Sections are generated in order
// and labeled with roman numerals.
type ChapterPlan struct {
	Number   int           `json:"number"`
	Title    string        `json:"title"`
	Subtitle string        `json:"subtitle"`
	Intro    string        `json:"intro"`
	Sections []SectionPlan `json:"sections"`
}

// Validate rejects plans the generator cannot run.
func (p ChapterPlan) Validate() error {
	if len(p.Sections) == 0 {
		return ErrEmptyPlan
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("chapter plan has no title")
	}
	for i, s := range p.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("section %d has no title", i+1)
		}
	}
	return nil
}

var romanDigits = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// romanNumeral renders n (>= 1) as an uppercase roman numeral.
func romanNumeral(n int) string {
	var b strings.Builder
	for _, d := range romanDigits {
		for n >= d.value {
			b.WriteString(d.symbol)
			n -= d.value
		}
	}
	return b.String()
}

// sectionInstructions renders the per-section instruction block handed to
// the generation pipeline as custom instructions.
func sectionInstructions(numeral string, s SectionPlan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ACADEMIC TEXTBOOK SECTION: %s\n", s.Title)

	if s.Argument != "" {
		fmt.Fprintf(&b, "\nWRITING OBJECTIVE:\n%s\n", s.Argument)
	}
	if s.TargetWords > 0 {
		fmt.Fprintf(&b, "\nTARGET LENGTH: %d words\n", s.TargetWords)
	}
	if s.Approach != "" {
		fmt.Fprintf(&b, "\nWRITING APPROACH:\n%s\n", s.Approach)
	}
	if s.Tone != "" {
		fmt.Fprintf(&b, "\nTONE: %s\n", s.Tone)
	}
	if s.Outline != "" {
		fmt.Fprintf(&b, "\nSECTION OUTLINE:\n%s\n", s.Outline)
	}
	if s.BuildsOn != "" || s.SetsUp != "" {
		b.WriteString("\nFLOW REQUIREMENTS:\n")
		if s.BuildsOn != "" {
			fmt.Fprintf(&b, "Builds on: %s\n", s.BuildsOn)
		}
		if s.SetsUp != "" {
			fmt.Fprintf(&b, "Sets up: %s\n", s.SetsUp)
		}
	}

	fmt.Fprintf(&b, "\nWrite Section %s as a complete, standalone section that flows "+
		"naturally from previous content and sets up the next section. Include "+
		"proper academic citations, historical evidence, and analysis.", numeral)

	return b.String()
}
