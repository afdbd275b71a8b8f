// Package prompt builds the generation request string.
//
// Build is a pure function: identical inputs always produce byte-identical
// output. The ledger stores exactly this string as the version's prompt, so
// determinism is what makes stored prompts reproducible and auditable.
// Inputs carry ordered slices rather than maps; iteration order is part of
// the output contract.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTableRows caps how many rows of each table are rendered.
	MaxTableRows = 5

	// BucketContentBudget caps rendered bucket content, in bytes.
	BucketContentBudget = 1000

	// TruncationMarker is appended when bucket content exceeds the budget.
	TruncationMarker = "... [content truncated]"

	// failureMarker prefixes bucket placeholders produced when a bucket
	// query fails. Marked entries stay visible to assembly and logs but are
	// excluded from the rendered prompt.
	failureMarker = "[bucket unavailable"

	// taskDirective closes every prompt.
	taskDirective = "Using all the above information, create compelling, well-structured content that incorporates the relevant insights, data, and context provided."
)

// toneGuidance maps the fixed tone vocabulary to one-sentence style
// instructions. Unrecognized tones fall back to a generic directive.
var toneGuidance = map[string]string{
	"creative":     "Write in a creative, imaginative style with vivid descriptions and engaging narrative.",
	"professional": "Write in a clear, professional tone suitable for business communication.",
	"academic":     "Write in a formal, scholarly style with proper structure and analytical depth.",
	"technical":    "Write with precision and technical accuracy, focusing on clear explanations.",
	"casual":       "Write in a conversational, approachable tone that's easy to understand.",
	"dramatic":     "Write with emotional intensity and compelling dramatic tension.",
	"neutral":      "Write in a balanced, objective tone.",
}

// ToneInstruction resolves a tone name to its style directive.
func ToneInstruction(tone string) string {
	if guidance, ok := toneGuidance[strings.ToLower(tone)]; ok {
		return guidance
	}
	return fmt.Sprintf("Write in a %s tone.", tone)
}

// Unavailable builds the failure placeholder for a bucket whose query failed.
// The placeholder is visible to assembly output and logs but never forwarded
// into the rendered prompt.
func Unavailable(bucket, reason string) string {
	return fmt.Sprintf("%s: %s: %s]", failureMarker, bucket, reason)
}

// IsUnavailable reports whether content is a failure placeholder.
func IsUnavailable(content string) bool {
	return strings.HasPrefix(content, failureMarker)
}

// TableData is one table extract: name, ordered columns, and rows in rowid
// order. Column order drives row rendering, so it is part of determinism.
type TableData struct {
	Name    string
	Columns []string
	Rows    []map[string]string
}

// BucketResult is one bucket's retrieval output (or failure placeholder).
type BucketResult struct {
	Name    string
	Content string
}

// Input is everything Build consumes.
type Input struct {
	Tone         string
	Instructions string
	Brainstorms  []string
	Tables       []TableData
	Buckets      []BucketResult
}

// Build composes the final prompt with the fixed section order:
// tone, instructions, brainstorm insights, reference data, research context,
// closing task directive.
func Build(in Input) string {
	var parts []string

	if tone := strings.TrimSpace(in.Tone); tone != "" {
		parts = append(parts, "TONE: "+ToneInstruction(tone))
	}

	if instructions := strings.TrimSpace(in.Instructions); instructions != "" {
		parts = append(parts, "INSTRUCTIONS: "+instructions)
	}

	if len(in.Brainstorms) > 0 {
		parts = append(parts, "\n--- BRAINSTORM INSIGHTS ---")
		for i, brainstorm := range in.Brainstorms {
			if text := strings.TrimSpace(brainstorm); text != "" {
				parts = append(parts, fmt.Sprintf("Brainstorm %d:\n%s", i+1, text))
			}
		}
	}

	if len(in.Tables) > 0 {
		parts = append(parts, "\n--- REFERENCE DATA ---")
		for _, table := range in.Tables {
			if len(table.Rows) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("\n%s DATA:", strings.ToUpper(table.Name)))
			for i, row := range table.Rows {
				if i == MaxTableRows {
					break
				}
				parts = append(parts, fmt.Sprintf("  %d. %s", i+1, flattenRow(table.Columns, row)))
			}
			if extra := len(table.Rows) - MaxTableRows; extra > 0 {
				parts = append(parts, fmt.Sprintf("  ... and %d more entries", extra))
			}
		}
	}

	if len(in.Buckets) > 0 {
		parts = append(parts, "\n--- RESEARCH CONTEXT ---")
		for _, bucket := range in.Buckets {
			content := strings.TrimSpace(bucket.Content)
			if content == "" || IsUnavailable(content) {
				continue
			}
			if len(content) > BucketContentBudget {
				// Cut at a rune boundary so the stored prompt stays
				// valid UTF-8.
				cut := BucketContentBudget
				for cut > 0 && !utf8.RuneStart(content[cut]) {
					cut--
				}
				content = content[:cut] + TruncationMarker
			}
			parts = append(parts, fmt.Sprintf("\nFrom %s:\n%s", bucket.Name, content))
		}
	}

	parts = append(parts, "\n--- TASK ---")
	parts = append(parts, taskDirective)

	return strings.Join(parts, "\n\n")
}

// flattenRow renders one row as "col: value, col: value" in column order,
// skipping empty values.
func flattenRow(columns []string, row map[string]string) string {
	pairs := make([]string, 0, len(columns))
	for _, col := range columns {
		if val := row[col]; val != "" {
			pairs = append(pairs, col+": "+val)
		}
	}
	return strings.Join(pairs, ", ")
}
