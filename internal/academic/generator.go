// Package academic generates whole textbook chapters section by section.
// Each section is one generation pipeline run with its own table selection
// and all of the project's buckets; the finished chapter is assembled from
// the section results and recorded as its own version that soft-references
// the section version ids.
package academic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/version"
)

// SectionRunner is the slice of the generation pipeline the generator needs.
type SectionRunner interface {
	Run(ctx context.Context, req generate.Request) (*generate.Response, error)
}

// BucketLister enumerates a project's buckets.
type BucketLister interface {
	List(projectName string) ([]bucket.Info, error)
}

// TableLister enumerates a project's tables.
type TableLister interface {
	ListTables(ctx context.Context, projectName string) ([]string, error)
}

// SectionOutcome reports one section's generation.
type SectionOutcome struct {
	Numeral   string `json:"numeral"`
	Title     string `json:"title"`
	VersionID string `json:"version_id"`
	WordCount int    `json:"word_count"`
	Status    string `json:"status"`
}

// ChapterResult is the outcome of a full chapter run.
type ChapterResult struct {
	VersionID    string           `json:"version_id"`
	Content      string           `json:"content"`
	TotalWords   int              `json:"total_words"`
	SectionsOK   int              `json:"sections_generated"`
	SectionsFail int              `json:"sections_failed"`
	Sections     []SectionOutcome `json:"sections"`
}

// Generator runs chapter plans through the generation pipeline.
type Generator struct {
	pipeline SectionRunner
	buckets  BucketLister
	tables   TableLister
	ledger   generate.VersionAppender
	logger   log.Logger

	now func() time.Time
}

func NewGenerator(pipeline SectionRunner, buckets BucketLister, tables TableLister, ledger generate.VersionAppender, logger log.Logger) *Generator {
	return &Generator{
		pipeline: pipeline,
		buckets:  buckets,
		tables:   tables,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateChapter runs every section of the plan in order, assembles the
// chapter, and appends the chapter version. A failed section does not stop
// the run; it is reported in the result and the chapter carries a gap.
func (g *Generator) GenerateChapter(ctx context.Context, projectName string, plan ChapterPlan) (*ChapterResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	allBuckets, err := g.bucketNames(projectName)
	if err != nil {
		return nil, err
	}
	existingTables, err := g.tables.ListTables(ctx, projectName)
	if err != nil {
		return nil, err
	}

	result := &ChapterResult{}
	var sectionIDs []string
	var rendered []string

	for i, section := range plan.Sections {
		numeral := romanNumeral(i + 1)
		tables := g.verifyTables(projectName, numeral, section.Tables, existingTables)

		resp, err := g.pipeline.Run(ctx, generate.Request{
			Project:      projectName,
			Type:         version.TypeAcademicSection,
			Name:         fmt.Sprintf("Chapter %d, Section %s: %s", plan.Number, numeral, section.Title),
			Focus:        section.Argument,
			Tone:         "academic",
			Instructions: sectionInstructions(numeral, section),
			Sources: assemble.Selection{
				Buckets: allBuckets,
				Tables:  tables,
			},
		})

		outcome := SectionOutcome{Numeral: numeral, Title: section.Title}
		switch {
		case err != nil:
			outcome.Status = generate.StatusError
			result.SectionsFail++
			g.logger.Warn("section generation failed",
				"project", projectName, "section", numeral, "error", err)
		default:
			outcome.VersionID = resp.VersionID
			outcome.Status = resp.Status
			outcome.WordCount = len(strings.Fields(resp.Result))
			sectionIDs = append(sectionIDs, resp.VersionID)
			if resp.Status == generate.StatusSuccess {
				result.SectionsOK++
				result.TotalWords += outcome.WordCount
				rendered = append(rendered,
					fmt.Sprintf("## %s. %s\n\n%s", numeral, section.Title, resp.Result))
			} else {
				result.SectionsFail++
			}
		}
		result.Sections = append(result.Sections, outcome)
	}

	result.Content = assembleChapter(plan, rendered)

	chapterID, err := g.ledger.Append(ctx, projectName, version.Draft{
		Type:   version.TypeAcademicChapter,
		Name:   fmt.Sprintf("Chapter %d: %s", plan.Number, plan.Title),
		Focus:  fmt.Sprintf("Complete academic chapter with %d sections", len(plan.Sections)),
		Prompt: "Academic textbook chapter generation",
		Result: result.Content,
		Metadata: version.Metadata{
			SelectedSources: version.SelectedSources{
				Buckets: allBuckets,
			},
			DataSourcesCount: len(allBuckets),
			SectionVersions:  sectionIDs,
		},
	})
	if err != nil {
		return result, fmt.Errorf("persisting chapter version: %w", err)
	}
	result.VersionID = chapterID

	g.logger.Info("chapter generated",
		"project", projectName,
		"version_id", chapterID,
		"sections_ok", result.SectionsOK,
		"sections_failed", result.SectionsFail,
		"total_words", result.TotalWords)

	return result, nil
}

func (g *Generator) bucketNames(projectName string) ([]string, error) {
	infos, err := g.buckets.List(projectName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// verifyTables filters the section's table selection to tables that exist,
// logging what was dropped.
func (g *Generator) verifyTables(projectName, numeral string, selected, existing []string) []string {
	var verified []string
	for _, table := range selected {
		if slices.Contains(existing, table) {
			verified = append(verified, table)
			continue
		}
		g.logger.Warn("section table missing, skipping",
			"project", projectName, "section", numeral, "table", table)
	}
	return verified
}

// assembleChapter renders the chapter header and joins the section bodies.
func assembleChapter(plan ChapterPlan, sections []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Chapter %d: %s\n", plan.Number, plan.Title)
	if plan.Subtitle != "" {
		fmt.Fprintf(&b, "## %s\n", plan.Subtitle)
	}
	if plan.Intro != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(plan.Intro))
		b.WriteString("\n")
	}
	b.WriteString("\n---\n\n")

	if len(sections) == 0 {
		b.WriteString("No sections generated for this chapter.")
		return b.String()
	}
	b.WriteString(strings.Join(sections, "\n\n"))

	return b.String()
}
