package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type StageName string

const (
	StageRetrieveGrounding StageName = "retrieve_grounding"
	StageParseCV           StageName = "parse_cv"
	StageEvaluateCV        StageName = "evaluate_cv"
	StageParseProject      StageName = "parse_project"
	StageEvaluateProject   StageName = "evaluate_project"
	StageSynthesizeSummary StageName = "synthesize_summary"
)

const (
	parseTemperature      float32 = 0.1
	evaluateTemperature   float32 = 0.3
	synthesizeTemperature float32 = 0.5
)

type PersonalInfo struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

type WorkExperience struct {
	Company    string   `json:"company" validate:"required"`
	Role       string   `json:"role" validate:"required"`
	Start      string   `json:"start,omitempty"`
	End        string   `json:"end,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

type Education struct {
	Institution string `json:"institution" validate:"required"`
	Degree      string `json:"degree,omitempty"`
	Field       string `json:"field,omitempty"`
	Year        string `json:"year,omitempty"`
}

type CVProject struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

type ParsedCV struct {
	PersonalInfo         PersonalInfo     `json:"personal_info" validate:"required"`
	Summary              string           `json:"summary,omitempty"`
	Skills               []string         `json:"skills" validate:"required,min=1,dive,required"`
	WorkExperience       []WorkExperience `json:"work_experience" validate:"required,dive"`
	Education            []Education      `json:"education" validate:"required,dive"`
	TotalYearsExperience *float64         `json:"total_years_experience" validate:"required,gte=0,lte=70"`
	Certifications       []string         `json:"certifications,omitempty"`
	Projects             []CVProject      `json:"projects,omitempty"`
}

type CVEvaluation struct {
	TechnicalSkillsScore float64  `json:"technical_skills_score" validate:"omitempty,gte=1,lte=5"`
	ExperienceLevelScore float64  `json:"experience_level_score" validate:"omitempty,gte=1,lte=5"`
	AchievementsScore    float64  `json:"achievements_score" validate:"omitempty,gte=1,lte=5"`
	CulturalFitScore     float64  `json:"cultural_fit_score" validate:"omitempty,gte=1,lte=5"`
	WeightedAverage      float64  `json:"weighted_average" validate:"omitempty,gte=1,lte=5"`
	MatchRate            *float64 `json:"match_rate" validate:"required,gte=0,lte=1"`
	Feedback             string   `json:"feedback" validate:"required"`
}

type ParsedProject struct {
	Title               string   `json:"title,omitempty"`
	Summary             string   `json:"summary" validate:"required"`
	TechStack           []string `json:"tech_stack" validate:"required"`
	ImplementedFeatures []string `json:"implemented_features" validate:"required"`
	Architecture        string   `json:"architecture,omitempty"`
	ErrorHandling       string   `json:"error_handling,omitempty"`
	Testing             string   `json:"testing,omitempty"`
	Documentation       string   `json:"documentation,omitempty"`
	Limitations         []string `json:"limitations,omitempty"`
}

type ProjectEvaluation struct {
	CorrectnessScore   float64 `json:"correctness_score" validate:"omitempty,gte=1,lte=5"`
	CodeQualityScore   float64 `json:"code_quality_score" validate:"omitempty,gte=1,lte=5"`
	ResilienceScore    float64 `json:"resilience_score" validate:"omitempty,gte=1,lte=5"`
	DocumentationScore float64 `json:"documentation_score" validate:"omitempty,gte=1,lte=5"`
	CreativityScore    float64 `json:"creativity_score" validate:"omitempty,gte=1,lte=5"`
	WeightedAverage    float64 `json:"weighted_average" validate:"omitempty,gte=1,lte=5"`
	ProjectScore       float64 `json:"project_score" validate:"gte=1,lte=5"`
	Feedback           string  `json:"feedback" validate:"required"`
}

type SummaryResult struct {
	Text           string
	Recommendation string
}

var recommendationCategories = []string{"Strong Hire", "Hire", "Maybe", "No Hire"}

var (
	// Only an explicit "Recommendation: <category>" counts; bold markers around the label are allowed.
	recommendationLine = regexp.MustCompile(`(?i)\brecommendation\s*\**\s*[:\-]\s*\**\s*(strong\s+hire|no\s+hire|maybe|hire)\b`)
	whitespace         = regexp.MustCompile(`\s+`)
)

// ParseRecommendation returns the category named on an explicit
// "Recommendation: X" line, or "" when the summary has none.
func ParseRecommendation(text string) string {
	m := recommendationLine.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return canonicalRecommendation(m[1])
}

func canonicalRecommendation(raw string) string {
	normalized := whitespace.ReplaceAllString(strings.TrimSpace(raw), " ")
	for _, category := range recommendationCategories {
		if strings.EqualFold(category, normalized) {
			return category
		}
	}
	return ""
}

// PipelineState carries validated stage outputs from one stage to the next.
type PipelineState struct {
	Input             EvaluationInput
	Grounding         *Grounding
	ParsedCV          *ParsedCV
	CVEvaluation      *CVEvaluation
	ParsedProject     *ParsedProject
	ProjectEvaluation *ProjectEvaluation
	Summary           *SummaryResult
}

// Stage is one step of the evaluation pipeline. Run reads earlier outputs from state
// and stores its own validated output there.
type Stage struct {
	Name StageName
	Run  func(ctx context.Context, state *PipelineState) error
}

// structuredStage builds a stage that sends one JSON request and keeps the result only
// after the gateway's schema validation and check both pass.
func structuredStage[T any](
	name StageName,
	gateway ModelGateway,
	kind RequestKind,
	temperature float32,
	prompt func(*PipelineState) (string, error),
	check func(*T) error,
	keep func(*PipelineState, *T),
) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, state *PipelineState) error {
			text, err := prompt(state)
			if err != nil {
				return err
			}

			out := new(T)
			req := ModelRequest{Kind: kind, Prompt: text, Temperature: temperature}
			if err := gateway.GenerateStructured(ctx, req, out); err != nil {
				return err
			}
			if check != nil {
				if err := check(out); err != nil {
					return newError(KindMalformedOutput, err)
				}
			}

			keep(state, out)
			return nil
		},
	}
}

// NewEvaluationStages returns the pipeline in execution order.
func NewEvaluationStages(refStore ReferenceStore, gateway ModelGateway, prompts *PromptBuilder) []Stage {
	return []Stage{
		{
			Name: StageRetrieveGrounding,
			Run: func(ctx context.Context, state *PipelineState) error {
				title, err := refStore.FindRelevantJobTitle(ctx, state.Input.JobTitle)
				if err != nil {
					return err
				}
				grounding, err := refStore.FetchGrounding(ctx, title)
				if err != nil {
					return err
				}
				state.Grounding = grounding
				return nil
			},
		},
		structuredStage(StageParseCV, gateway, RequestParseCV, parseTemperature,
			func(s *PipelineState) (string, error) {
				if err := requireOutput(s.Grounding != nil, "grounding"); err != nil {
					return "", err
				}
				return prompts.BuildParseCVPrompt(s.Input.CVText), nil
			},
			nil,
			func(s *PipelineState, out *ParsedCV) { s.ParsedCV = out },
		),
		structuredStage(StageEvaluateCV, gateway, RequestEvaluateCV, evaluateTemperature,
			func(s *PipelineState) (string, error) {
				if err := requireOutput(s.ParsedCV != nil, "parsed CV"); err != nil {
					return "", err
				}
				parsed, err := json.MarshalIndent(s.ParsedCV, "", "  ")
				if err != nil {
					return "", fmt.Errorf("marshal parsed CV: %w", err)
				}
				return prompts.BuildCVEvaluationPrompt(
					s.Input.JobTitle,
					s.Grounding.JobDescription,
					s.Grounding.ScoringRubric,
					s.Input.CVText,
					string(parsed),
				), nil
			},
			func(out *CVEvaluation) error {
				return requireText(out.Feedback, "feedback")
			},
			func(s *PipelineState, out *CVEvaluation) { s.CVEvaluation = out },
		),
		structuredStage(StageParseProject, gateway, RequestParseProject, parseTemperature,
			func(s *PipelineState) (string, error) {
				if err := requireOutput(s.CVEvaluation != nil, "CV evaluation"); err != nil {
					return "", err
				}
				return prompts.BuildParseProjectPrompt(s.Input.ProjectText), nil
			},
			func(out *ParsedProject) error {
				return requireText(out.Summary, "summary")
			},
			func(s *PipelineState, out *ParsedProject) { s.ParsedProject = out },
		),
		structuredStage(StageEvaluateProject, gateway, RequestEvaluateProject, evaluateTemperature,
			func(s *PipelineState) (string, error) {
				if err := requireOutput(s.ParsedProject != nil, "parsed project"); err != nil {
					return "", err
				}
				parsed, err := json.MarshalIndent(s.ParsedProject, "", "  ")
				if err != nil {
					return "", fmt.Errorf("marshal parsed project: %w", err)
				}
				return prompts.BuildProjectEvaluationPrompt(
					s.Grounding.CaseStudyBrief,
					s.Grounding.ScoringRubric,
					s.Input.ProjectText,
					string(parsed),
				), nil
			},
			func(out *ProjectEvaluation) error {
				return requireText(out.Feedback, "feedback")
			},
			func(s *PipelineState, out *ProjectEvaluation) { s.ProjectEvaluation = out },
		),
		{
			Name: StageSynthesizeSummary,
			Run: func(ctx context.Context, state *PipelineState) error {
				if err := requireOutput(state.CVEvaluation != nil && state.ProjectEvaluation != nil, "CV and project evaluations"); err != nil {
					return err
				}
				prompt := prompts.BuildFinalSummaryPrompt(
					state.Input.JobTitle,
					*state.CVEvaluation.MatchRate,
					state.CVEvaluation.Feedback,
					state.ProjectEvaluation.ProjectScore,
					state.ProjectEvaluation.Feedback,
				)

				text, err := gateway.GenerateText(ctx, ModelRequest{
					Kind:        RequestSynthesizeSummary,
					Prompt:      prompt,
					Temperature: synthesizeTemperature,
				})
				if err != nil {
					return err
				}

				text = strings.TrimSpace(text)
				if err := requireText(text, "summary"); err != nil {
					return newError(KindMalformedOutput, err)
				}
				recommendation := ParseRecommendation(text)
				if recommendation == "" {
					return newErrorf(KindMalformedOutput, "summary has no hiring recommendation")
				}

				state.Summary = &SummaryResult{Text: text, Recommendation: recommendation}
				return nil
			},
		},
	}
}

func requireOutput(ok bool, what string) error {
	if ok {
		return nil
	}
	return newErrorf(KindUnknown, "missing validated %s from an earlier stage", what)
}

func requireText(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be blank", field)
	}
	return nil
}
