package project

import (
	"errors"
	"slices"
)

// ErrTemplateNotFound indicates an unknown template id.
var ErrTemplateNotFound = errors.New("template not found")

// TableSpec declares a template table: ordered columns plus a short
// human-readable description.
type TableSpec struct {
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

// Template is a built-in project blueprint: default buckets, default tables,
// and optional sample rows keyed by table name.
type Template struct {
	ID             string                         `json:"id"`
	Name           string                         `json:"name"`
	Description    string                         `json:"description"`
	Category       string                         `json:"category"`
	DefaultBuckets []string                       `json:"default_buckets"`
	DefaultTables  map[string]TableSpec           `json:"default_tables"`
	SampleData     map[string][]map[string]string `json:"sample_data,omitempty"`
}

// TableNames returns the template's table names in a stable order
// (alphabetical; map iteration order is not).
func (t Template) TableNames() []string {
	names := make([]string, 0, len(t.DefaultTables))
	for name := range t.DefaultTables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SampleRowCount reports the total sample rows the template carries.
func (t Template) SampleRowCount() int {
	n := 0
	for _, rows := range t.SampleData {
		n += len(rows)
	}
	return n
}

// Templates returns the built-in template catalog keyed by id.
func Templates() map[string]Template {
	return builtinTemplates
}

// LookupTemplate resolves a template id.
func LookupTemplate(id string) (Template, error) {
	t, ok := builtinTemplates[id]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}

var builtinTemplates = map[string]Template{
	"screenplay": {
		ID:             "screenplay",
		Name:           "Screenplay Writing",
		Description:    "Full screenplay development with character arcs and scene structure",
		Category:       "creative",
		DefaultBuckets: []string{"character_research", "plot_devices", "dialogue_samples"},
		DefaultTables: map[string]TableSpec{
			"characters": {
				Columns:     []string{"name", "age", "role", "arc", "traits", "flaws", "backstory"},
				Description: "Main and supporting characters with development arcs",
			},
			"scenes": {
				Columns:     []string{"act", "scene", "location", "characters", "purpose", "conflict", "outcome"},
				Description: "Scene-by-scene breakdown with structure and purpose",
			},
			"themes": {
				Columns:     []string{"theme", "examples", "character_connection", "scenes", "development"},
				Description: "Central themes and how they develop throughout the story",
			},
			"locations": {
				Columns:     []string{"name", "description", "mood", "scenes_used", "significance"},
				Description: "Key locations and their dramatic significance",
			},
		},
		SampleData: map[string][]map[string]string{
			"characters": {
				{
					"name":      "Alex Rivera",
					"age":       "28",
					"role":      "Protagonist",
					"arc":       "Learns to trust others and overcome isolation",
					"traits":    "Witty, intelligent, guarded",
					"flaws":     "Commitment issues, overthinks everything",
					"backstory": "Former tech prodigy burned by corporate betrayal",
				},
				{
					"name":      "Morgan Chen",
					"age":       "32",
					"role":      "Love Interest",
					"arc":       "Helps Alex open up while pursuing own dreams",
					"traits":    "Patient, creative, determined",
					"flaws":     "Sometimes too accommodating",
					"backstory": "Independent filmmaker struggling to break through",
				},
			},
			"scenes": {
				{
					"act":        "1",
					"scene":      "1",
					"location":   "Alex's apartment",
					"characters": "Alex",
					"purpose":    "Establish character isolation and routine",
					"conflict":   "Internal - resistance to change",
					"outcome":    "Forced to leave comfort zone",
				},
			},
			"themes": {
				{
					"theme":                "Connection vs. Isolation",
					"examples":             "Alex's hermit lifestyle, Morgan's collaborative nature",
					"character_connection": "Alex must learn to connect",
					"scenes":               "Opening isolation, meet-cute, final collaboration",
					"development":          "From complete isolation to meaningful partnership",
				},
			},
		},
	},

	"academic_textbook": {
		ID:             "academic_textbook",
		Name:           "Academic Textbook",
		Description:    "Research-driven academic writing with citations and structured chapters",
		Category:       "academic",
		DefaultBuckets: []string{"primary_sources", "secondary_research", "case_studies", "methodologies"},
		DefaultTables: map[string]TableSpec{
			"chapters": {
				Columns:     []string{"number", "title", "learning_objectives", "key_concepts", "status", "word_count"},
				Description: "Chapter organization with learning goals and progress tracking",
			},
			"references": {
				Columns:     []string{"author", "title", "year", "type", "relevance", "chapter_usage", "citation_key"},
				Description: "Bibliography and source management with usage tracking",
			},
			"figures": {
				Columns:     []string{"number", "caption", "source", "chapter", "type", "description"},
				Description: "Visual elements and their integration with text",
			},
			"key_terms": {
				Columns:     []string{"term", "definition", "chapter_introduced", "related_concepts", "examples"},
				Description: "Glossary development and concept relationships",
			},
		},
		SampleData: map[string][]map[string]string{
			"chapters": {
				{
					"number":              "1",
					"title":               "Introduction to Film Theory",
					"learning_objectives": "Define key theoretical frameworks, understand historical context",
					"key_concepts":        "Auteur theory, formalism, realism",
					"status":              "draft",
					"word_count":          "2500",
				},
				{
					"number":              "2",
					"title":               "Classical Hollywood Cinema",
					"learning_objectives": "Analyze narrative structure, identify visual conventions",
					"key_concepts":        "Three-act structure, continuity editing, star system",
					"status":              "outline",
					"word_count":          "0",
				},
			},
			"references": {
				{
					"author":        "Bordwell, David",
					"title":         "Narration in the Fiction Film",
					"year":          "1985",
					"type":          "book",
					"relevance":     "foundational theory",
					"chapter_usage": "1, 3, 5",
					"citation_key":  "bordwell1985",
				},
			},
		},
	},

	"business_plan": {
		ID:             "business_plan",
		Name:           "Business Plan",
		Description:    "Comprehensive business strategy and market analysis",
		Category:       "business",
		DefaultBuckets: []string{"market_research", "competitor_analysis", "financial_models", "legal_documents"},
		DefaultTables: map[string]TableSpec{
			"market_segments": {
				Columns:     []string{"segment", "size", "growth_rate", "needs", "competition", "opportunity"},
				Description: "Target market analysis and opportunity assessment",
			},
			"competitors": {
				Columns:     []string{"name", "strengths", "weaknesses", "market_share", "strategy", "threat_level"},
				Description: "Competitive landscape and positioning analysis",
			},
			"milestones": {
				Columns:     []string{"milestone", "deadline", "success_criteria", "dependencies", "status", "owner"},
				Description: "Key business objectives and timeline tracking",
			},
			"financial_projections": {
				Columns:     []string{"period", "revenue", "expenses", "profit", "cash_flow", "assumptions"},
				Description: "Financial forecasting and performance metrics",
			},
		},
		SampleData: map[string][]map[string]string{
			"market_segments": {
				{
					"segment":     "Small Business Software",
					"size":        "$50B",
					"growth_rate": "15% annually",
					"needs":       "Cost-effective automation, easy integration",
					"competition": "High - many established players",
					"opportunity": "Underserved niche in creative industries",
				},
			},
			"milestones": {
				{
					"milestone":        "MVP Development",
					"deadline":         "Q2 2025",
					"success_criteria": "Core features functional, 10 beta users",
					"dependencies":     "Technical team hiring",
					"status":           "in_progress",
					"owner":            "CTO",
				},
			},
		},
	},

	"research_project": {
		ID:             "research_project",
		Name:           "Research Project",
		Description:    "Academic or scientific research with methodology and findings",
		Category:       "research",
		DefaultBuckets: []string{"literature_review", "methodology", "data_collection", "analysis_results"},
		DefaultTables: map[string]TableSpec{
			"research_questions": {
				Columns:     []string{"question", "hypothesis", "methodology", "status", "findings", "significance"},
				Description: "Core research questions and investigation progress",
			},
			"participants": {
				Columns:     []string{"id", "demographics", "group", "consent_date", "status", "notes"},
				Description: "Study participant management and tracking",
			},
			"data_sources": {
				Columns:     []string{"source", "type", "collection_date", "quality", "relevance", "analysis_status"},
				Description: "Data collection tracking and quality assessment",
			},
			"findings": {
				Columns:     []string{"finding", "evidence", "significance", "related_questions", "implications"},
				Description: "Research discoveries and their implications",
			},
		},
		SampleData: map[string][]map[string]string{
			"research_questions": {
				{
					"question":     "How does AI-assisted writing affect creative process?",
					"hypothesis":   "AI tools enhance ideation but may reduce originality",
					"methodology":  "Mixed methods: surveys + interviews",
					"status":       "data_collection",
					"findings":     "Preliminary - increased productivity observed",
					"significance": "High - impacts creative industries",
				},
			},
		},
	},

	"custom": {
		ID:             "custom",
		Name:           "Custom Project",
		Description:    "Start with a blank slate and build your own structure",
		Category:       "general",
		DefaultBuckets: []string{},
		DefaultTables:  map[string]TableSpec{},
	},
}
