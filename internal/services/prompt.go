package services

import (
	"fmt"
	"strings"
)

type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildParseCVPrompt asks for the candidate CV as structured JSON.
func (pb *PromptBuilder) BuildParseCVPrompt(cvText string) string {
	return fmt.Sprintf(`You are a precise CV parser. Extract the candidate's information from the CV below.

CANDIDATE CV:
%s

Return ONLY a JSON object with this structure:
{
  "personal_info": {"name": "<full name>", "email": "<email or empty>", "phone": "<phone or empty>", "location": "<location or empty>"},
  "summary": "<professional summary or empty>",
  "skills": ["<skill>", ...],
  "work_experience": [{"company": "<company>", "role": "<title>", "start": "<YYYY-MM or empty>", "end": "<YYYY-MM, present or empty>", "highlights": ["<achievement>", ...]}],
  "education": [{"institution": "<name>", "degree": "<degree>", "field": "<field or empty>", "year": "<year or empty>"}],
  "total_years_experience": <number>,
  "certifications": ["<certification>", ...],
  "projects": [{"name": "<name>", "description": "<description>", "technologies": ["<tech>", ...]}]
}

Use empty arrays when a section is absent. Do not invent information that is not in the CV.`, cvText)
}

// BuildCVEvaluationPrompt places the job description and rubric ahead of the candidate
// material so the standard, not the candidate, anchors the evaluation.
func (pb *PromptBuilder) BuildCVEvaluationPrompt(jobTitle, jobDescription, scoringRubric, cvText, parsedCV string) string {
	return fmt.Sprintf(`You are an expert HR recruiter evaluating a candidate's CV for a %s position.

JOB DESCRIPTION:
%s

SCORING RUBRIC:
%s

CANDIDATE CV (structured):
%s

CANDIDATE CV (original text):
%s

Your task is to evaluate the candidate's CV against the job description using the scoring rubric provided.

Evaluate the following parameters (1-5 scale):
1. Technical Skills Match (Weight: 40%%) - Alignment with job requirements
2. Experience Level (Weight: 25%%) - Years of experience and project complexity
3. Relevant Achievements (Weight: 20%%) - Impact of past work (scaling, performance, adoption)
4. Cultural/Collaboration Fit (Weight: 15%%) - Communication, learning mindset, teamwork/leadership

Return your response in the following JSON format:
{
  "technical_skills_score": <1-5>,
  "experience_level_score": <1-5>,
  "achievements_score": <1-5>,
  "cultural_fit_score": <1-5>,
  "weighted_average": <calculated weighted average, 1-5>,
  "match_rate": <weighted_average * 0.2, as decimal 0-1>,
  "feedback": "<detailed feedback 3-5 sentences explaining strengths and gaps>"
}

Be objective and thorough. Provide specific examples from the CV to justify your scores.`,
		jobTitle, jobDescription, scoringRubric, parsedCV, cvText)
}

// BuildParseProjectPrompt asks for the project report as structured JSON.
func (pb *PromptBuilder) BuildParseProjectPrompt(projectText string) string {
	return fmt.Sprintf(`You are a precise technical document parser. Extract the key facts from the candidate's project report below.

CANDIDATE'S PROJECT REPORT:
%s

Return ONLY a JSON object with this structure:
{
  "title": "<project title or empty>",
  "summary": "<2-3 sentence summary of what was built>",
  "tech_stack": ["<technology>", ...],
  "implemented_features": ["<feature>", ...],
  "architecture": "<architecture description or empty>",
  "error_handling": "<how failures, retries and timeouts are handled, or empty>",
  "testing": "<testing approach or empty>",
  "documentation": "<documentation quality notes or empty>",
  "limitations": ["<limitation or trade-off>", ...]
}

Use empty strings or arrays when the report says nothing about a field. Do not invent information.`, projectText)
}

// BuildProjectEvaluationPrompt places the case study brief and rubric ahead of the report.
func (pb *PromptBuilder) BuildProjectEvaluationPrompt(caseStudyBrief, scoringRubric, projectText, parsedProject string) string {
	return fmt.Sprintf(`You are an expert technical evaluator assessing a candidate's project report for a take-home assignment.

CASE STUDY BRIEF (Requirements):
%s

SCORING RUBRIC:
%s

CANDIDATE'S PROJECT REPORT (structured):
%s

CANDIDATE'S PROJECT REPORT (original text):
%s

Your task is to evaluate the candidate's project report against the case study requirements using the scoring rubric.

Evaluate the following parameters (1-5 scale):
1. Correctness (Weight: 30%%) - Implements prompt design, LLM chaining, RAG context injection
2. Code Quality & Structure (Weight: 25%%) - Clean, modular, reusable, tested
3. Resilience & Error Handling (Weight: 20%%) - Handles long jobs, retries, randomness, API failures
4. Documentation & Explanation (Weight: 15%%) - README clarity, setup instructions, trade-off explanations
5. Creativity/Bonus (Weight: 10%%) - Extra features beyond requirements

Return your response in the following JSON format:
{
  "correctness_score": <1-5>,
  "code_quality_score": <1-5>,
  "resilience_score": <1-5>,
  "documentation_score": <1-5>,
  "creativity_score": <1-5>,
  "weighted_average": <calculated weighted average, 1-5>,
  "project_score": <weighted_average, 1-5>,
  "feedback": "<detailed feedback 3-5 sentences explaining what was done well and what could be improved>"
}

Be thorough and specific. Reference actual implementation details from the report.`,
		caseStudyBrief, scoringRubric, parsedProject, projectText)
}

// BuildFinalSummaryPrompt only sees the outputs of the two evaluation stages.
func (pb *PromptBuilder) BuildFinalSummaryPrompt(jobTitle string, cvMatchRate float64, cvFeedback string, projectScore float64, projectFeedback string) string {
	return fmt.Sprintf(`You are an expert technical hiring manager making a final assessment of a candidate for a %s position.

CV EVALUATION RESULTS:
- Match Rate: %.2f (out of 1.0)
- Feedback: %s

PROJECT EVALUATION RESULTS:
- Project Score: %.2f (out of 5.0)
- Feedback: %s

Based on both evaluations, write a concise overall summary (4-6 sentences) that includes:
1. Final recommendation, stated as "Recommendation: <%s>"
2. Key strengths of the candidate
3. Key concerns or gaps
4. Suggested next steps in the hiring process

Return ONLY the summary text, no JSON format needed. Be direct and actionable.`,
		jobTitle, cvMatchRate, cvFeedback, projectScore, projectFeedback, strings.Join(recommendationCategories, " / "))
}
