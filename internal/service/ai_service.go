package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/config"
	"github.com/kpessa/delphi-webapp/internal/models"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 500

	defaultTopicTitle    = "Untitled Topic"
	defaultTopicQuestion = "What are your thoughts on this topic?"
	defaultConfidence    = 0.7
	heuristicConfidence  = 0.3

	emptyRoundSummary    = "No feedback provided in this round."
	fallbackRoundSummary = "Automatic summary not available."

	roundSummaryPrompt = "Summarize the key themes, agreements, and disagreements from this Delphi method round feedback."
)

var defaultSuggestedTypes = []models.FeedbackType{
	models.FeedbackTypeIdea,
	models.FeedbackTypeSolution,
	models.FeedbackTypeConcern,
}

// FeedbackLister lists feedback by filter
type FeedbackLister interface {
	List(ctx context.Context, filter models.FeedbackFilter) ([]models.Feedback, error)
}

// TopicExtraction is a topic draft proposed from unstructured text
type TopicExtraction struct {
	Title                  string                `json:"title"`
	Description            string                `json:"description"`
	Question               string                `json:"question"`
	SuggestedFeedbackTypes []models.FeedbackType `json:"suggestedFeedbackTypes"`
	Confidence             float64               `json:"confidence"`
}

// AIService extracts topics and summarises rounds through the LLM
type AIService struct {
	llm          LLMClient
	feedback     FeedbackLister
	model        string
	summaryModel string
}

// NewAIService creates a new AI service
func NewAIService(llm LLMClient, feedback FeedbackLister, cfg config.LLMConfig) *AIService {
	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Model
	}
	return &AIService{
		llm:          llm,
		feedback:     feedback,
		model:        cfg.Model,
		summaryModel: summaryModel,
	}
}

// ExtractTopic turns raw text into a topic draft. When the model call or its
// output fails, a keyword heuristic produces a lower-confidence draft instead.
func (s *AIService) ExtractTopic(ctx context.Context, rawText, panelContext string) (*TopicExtraction, error) {
	if !s.llm.Enabled() {
		return nil, apperrors.Unavailable("OpenAI service not configured")
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, apperrors.InvalidArgument("Missing or invalid rawText")
	}

	if panelContext == "" {
		panelContext = "General purpose panel"
	}

	content, err := s.llm.ChatCompletion(ctx, ChatRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: extractionSystemPrompt(panelContext)},
			{Role: "user", Content: extractionUserPrompt(rawText)},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("Topic extraction failed, using heuristic", "error", err)
		return HeuristicExtraction(rawText), nil
	}

	extraction, err := parseExtraction(content)
	if err != nil {
		slog.Warn("Topic extraction returned invalid JSON, using heuristic", "error", err)
		return HeuristicExtraction(rawText), nil
	}

	return extraction, nil
}

func extractionSystemPrompt(panelContext string) string {
	return `You are an expert at extracting structured information from unstructured text to create topics for group discussion using the Delphi method.

The Delphi method is a structured communication technique for gathering expert opinions anonymously over multiple rounds to reach consensus.

Your task is to extract:
1. A clear, concise title (max 100 chars)
2. A detailed description providing context (max 500 chars)
3. A specific, actionable question that experts can provide feedback on
4. Suggested feedback types that would be most helpful

Context about the panel (if provided): ` + panelContext
}

func extractionUserPrompt(rawText string) string {
	return `Extract a topic for Delphi method discussion from the following text:

` + rawText + `

Respond in JSON format with this structure:
{
  "title": "string",
  "description": "string",
  "question": "string",
  "suggestedFeedbackTypes": ["idea", "solution", "concern"],
  "confidence": 0.0-1.0
}`
}

func parseExtraction(content string) (*TopicExtraction, error) {
	var raw struct {
		Title                  string   `json:"title"`
		Description            string   `json:"description"`
		Question               string   `json:"question"`
		SuggestedFeedbackTypes []string `json:"suggestedFeedbackTypes"`
		Confidence             float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extraction: %w", err)
	}

	out := &TopicExtraction{
		Title:       truncate(raw.Title, maxTitleLength),
		Description: truncate(raw.Description, maxDescriptionLength),
		Question:    strings.TrimSpace(raw.Question),
		Confidence:  raw.Confidence,
	}
	if out.Title == "" {
		out.Title = defaultTopicTitle
	}
	if out.Question == "" {
		out.Question = defaultTopicQuestion
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = defaultConfidence
	}

	for _, t := range raw.SuggestedFeedbackTypes {
		ft := models.FeedbackType(strings.ToLower(strings.TrimSpace(t)))
		if ft.Valid() && !containsType(out.SuggestedFeedbackTypes, ft) {
			out.SuggestedFeedbackTypes = append(out.SuggestedFeedbackTypes, ft)
		}
	}
	if len(out.SuggestedFeedbackTypes) == 0 {
		out.SuggestedFeedbackTypes = append([]models.FeedbackType(nil), defaultSuggestedTypes...)
	}

	return out, nil
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)|\n`)

// questionTemplates map keyword groups to question and type suggestions, first match wins
var questionTemplates = []struct {
	keywords []string
	question string
	types    []models.FeedbackType
}{
	{
		keywords: []string{"risk", "safety", "harm", "concern", "danger"},
		question: "What risks or concerns do you see regarding %s?",
		types:    []models.FeedbackType{models.FeedbackTypeConcern, models.FeedbackTypeSolution},
	},
	{
		keywords: []string{"problem", "issue", "challenge", "difficult", "barrier"},
		question: "How should we address %s?",
		types:    []models.FeedbackType{models.FeedbackTypeSolution, models.FeedbackTypeConcern, models.FeedbackTypeIdea},
	},
	{
		keywords: []string{"improve", "better", "optimi", "enhance", "increase", "reduce"},
		question: "How can we improve %s?",
		types:    []models.FeedbackType{models.FeedbackTypeIdea, models.FeedbackTypeSolution, models.FeedbackTypeRefinement},
	},
	{
		keywords: []string{"should", "whether", "decide", "decision", "choose", "adopt"},
		question: "Should we move forward with %s, and under what conditions?",
		types:    []models.FeedbackType{models.FeedbackTypeVote, models.FeedbackTypeConcern, models.FeedbackTypeRefinement},
	},
	{
		keywords: []string{"propos", "idea", "plan", "initiative", "new"},
		question: "What do you think of %s, and how could it be refined?",
		types:    []models.FeedbackType{models.FeedbackTypeIdea, models.FeedbackTypeRefinement, models.FeedbackTypeConcern},
	},
}

// HeuristicExtraction derives a topic draft without the model: the first
// sentence becomes the title and keywords pick the question template.
func HeuristicExtraction(rawText string) *TopicExtraction {
	text := strings.TrimSpace(rawText)

	first := text
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		first = text[:loc[0]]
	}
	title := truncate(first, maxTitleLength)
	if title == "" {
		title = defaultTopicTitle
	}

	out := &TopicExtraction{
		Title:                  title,
		Description:            truncate(strings.Join(strings.Fields(text), " "), maxDescriptionLength),
		Question:               defaultTopicQuestion,
		SuggestedFeedbackTypes: append([]models.FeedbackType(nil), defaultSuggestedTypes...),
		Confidence:             heuristicConfidence,
	}

	lower := strings.ToLower(text)
	subject := strings.TrimRight(title, ".!?: ")
	for _, tpl := range questionTemplates {
		if containsAny(lower, tpl.keywords) {
			out.Question = fmt.Sprintf(tpl.question, subject)
			out.SuggestedFeedbackTypes = append([]models.FeedbackType(nil), tpl.types...)
			break
		}
	}

	return out
}

// GenerateRoundSummary summarises the feedback of a round on request
func (s *AIService) GenerateRoundSummary(ctx context.Context, topicID string, roundNumber int) (string, error) {
	if !s.llm.Enabled() {
		return "", apperrors.Unavailable("OpenAI service not configured")
	}
	if topicID == "" || roundNumber < 1 {
		return "", apperrors.InvalidArgument("topicId and roundNumber are required")
	}

	summary, err := s.summarize(ctx, topicID, roundNumber)
	if err != nil {
		return "", apperrors.Internal(err, "Failed to generate summary")
	}
	return summary, nil
}

// SummarizeRound produces the summary stored when a round closes. Without a
// configured model it returns a fixed placeholder; model failures are returned.
func (s *AIService) SummarizeRound(ctx context.Context, topicID string, roundNumber int) (string, error) {
	if !s.llm.Enabled() {
		return fallbackRoundSummary, nil
	}
	return s.summarize(ctx, topicID, roundNumber)
}

func (s *AIService) summarize(ctx context.Context, topicID string, roundNumber int) (string, error) {
	items, err := s.feedback.List(ctx, models.FeedbackFilter{TopicID: topicID, RoundNumber: roundNumber})
	if err != nil {
		return "", fmt.Errorf("failed to load round feedback: %w", err)
	}
	if len(items) == 0 {
		return emptyRoundSummary, nil
	}

	lines := make([]string, len(items))
	for i, fb := range items {
		lines[i] = fmt.Sprintf("%s: %s", fb.Type, fb.Content)
	}

	summary, err := s.llm.ChatCompletion(ctx, ChatRequest{
		Model: s.summaryModel,
		Messages: []ChatMessage{
			{Role: "system", Content: roundSummaryPrompt},
			{Role: "user", Content: strings.Join(lines, "\n")},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize round: %w", err)
	}
	return summary, nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func containsType(types []models.FeedbackType, t models.FeedbackType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
