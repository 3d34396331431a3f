package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/guardrail"
	"github.com/sage-edu/rag-core/internal/model"
	"github.com/sage-edu/rag-core/internal/modeladapter"
)

// calculationIndicators and calculationUnitTokens ground the
// calculation-problem heuristic exactly on original_source/backend/src/
// rag_pipeline.py's _is_math_or_physics_question, per spec.md §4.6.
var calculationIndicators = []string{
	"find the", "calculate", "compute", "solve for", "what is the value",
	"determine the", "angle of elevation", "angle of depression",
	"distance from", "height of", "speed of", "velocity", "acceleration",
	"how many", "how much", "how long", "if a", "from a point",
	"from another point", "tower stands", "building stands",
	"ball is thrown", "object is thrown", "train travels", "car moves",
	"given that", "such that",
}

var calculationUnitTokens = []string{
	" m ", " km ", " cm ", "°", " degree", " meter", " second",
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// isCalculationProblem reports whether question matches the
// calculation-problem heuristic: at least one indicator phrase AND (a digit
// or a unit token).
func isCalculationProblem(question string) bool {
	lower := strings.ToLower(question)

	hasIndicator := false
	for _, ind := range calculationIndicators {
		if strings.Contains(lower, ind) {
			hasIndicator = true
			break
		}
	}
	if !hasIndicator {
		return false
	}

	if containsDigit(question) {
		return true
	}
	for _, unit := range calculationUnitTokens {
		if strings.Contains(lower, unit) {
			return true
		}
	}
	return false
}

// wantsStepByStep reports whether a calculation-problem question should use
// the step-by-step scaffold: a subject keyword hit, or the literal word
// "step".
func wantsStepByStep(question string) bool {
	lower := strings.ToLower(question)
	if strings.Contains(lower, "step") {
		return true
	}
	return len(guardrail.QuestionDomains(question)) > 0
}

// SelectMode implements spec.md §4.6's mode-selection rule, given whether
// retrieval (if attempted) returned any accepted sources.
func SelectMode(question string, retrievedAnySources bool) model.Mode {
	if isCalculationProblem(question) {
		if wantsStepByStep(question) {
			return model.ModeStepByStep
		}
		return model.ModePureLLM
	}
	if !retrievedAnySources {
		return model.ModePureLLM
	}
	return model.ModeGrounded
}

const (
	genTemperature   = 0.2
	genTopP          = 0.9
	genTopK          = 40
	genRepeatPenalty = 1.15
)

func generationParams(maxTokens int) modeladapter.Params {
	return modeladapter.Params{
		MaxTokens:     maxTokens,
		Temperature:   genTemperature,
		TopP:          genTopP,
		TopK:          genTopK,
		RepeatPenalty: genRepeatPenalty,
	}
}

// leakedLabels are stripped from the start of the answer and from the start
// of each line, per spec.md §4.6.
var leakedLabels = []string{
	"Educational Answer:", "Answer:", "Response:", "Based on the context:",
	"According to the NCERT materials:", "From the curriculum:",
	"Your Response:", "IMPORTANT RULES:", "NOTE:", "You MUST inform",
	"Answer Format:", "Conceptual:", "Math/Physics/Chemistry:",
	"Previous Conversation:", "CRITICAL INSTRUCTION:", "NCERT Context:",
}

var uiArtifactLines = map[string]bool{
	"NCERT": true, "View Sources": true, "View Sources (5)": true,
}

const leakedRuleSentinel1 = "IMPORTANT RULES"
const leakedRuleSentinel2 = "You MUST inform"

const minimumAnswerLength = 20
const lowSimilarityDisclaimerFloor = 0.30

const helpMessage = "I can help with Math, Physics, and Chemistry questions from the NCERT curriculum. Please ask a specific question from one of these subjects."
const insufficientInfoMessage = "I don't have enough information to answer that confidently. Please try rephrasing your question or ask about a specific curriculum topic."
const limitedMaterialsDisclaimer = "\n\n(Note: the supporting materials for this answer were limited; please verify with your textbook.)"

// PostProcess cleans a raw model completion per spec.md §4.6 and returns
// the final answer text.
func PostProcess(raw string, sources []model.SourceDocument) string {
	// The sentinels are checked on the raw completion: "IMPORTANT RULES:" is
	// also one of the labels stripLeadingLabels removes.
	if strings.Contains(raw, leakedRuleSentinel1) || strings.Contains(raw, leakedRuleSentinel2) {
		return helpMessage
	}

	text := stripLeadingLabels(raw)
	text = dropArtifactLines(text)

	text = strings.TrimSpace(text)
	if len(text) < minimumAnswerLength {
		return insufficientInfoMessage
	}

	if len(sources) > 0 && meanSimilarity(sources) < lowSimilarityDisclaimerFloor {
		text += limitedMaterialsDisclaimer
	}
	return text
}

func stripLeadingLabels(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		for _, label := range leakedLabels {
			if strings.HasPrefix(trimmed, label) {
				trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, label))
				break
			}
		}
		lines[i] = trimmed
	}
	return strings.Join(lines, "\n")
}

func dropArtifactLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if uiArtifactLines[strings.TrimSpace(line)] {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func meanSimilarity(sources []model.SourceDocument) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Similarity
	}
	return sum / float64(len(sources))
}

// Confidence implements spec.md §4.6's formula.
func Confidence(sources []model.SourceDocument) float64 {
	if len(sources) == 0 {
		return 0.0
	}
	c := 0.3 + 0.1*float64(len(sources))
	if c > 0.7 {
		c = 0.7
	}
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// Generator is the Generation Controller.
type Generator struct {
	adapter   *modeladapter.Adapter
	assembler *PromptAssembler
}

// NewGenerator constructs a Generator.
func NewGenerator(adapter *modeladapter.Adapter, assembler *PromptAssembler) *Generator {
	return &Generator{adapter: adapter, assembler: assembler}
}

const defaultMaxTokens = 512

// Generate runs the blocking generation path, falling back to the
// deterministic simple-fallback cascade on decode_failure, per spec.md §4.6.
func (g *Generator) Generate(ctx context.Context, question string, sources []model.SourceDocument, history []model.ConversationTurn, mode model.Mode) (string, model.Mode, error) {
	plan := g.assembler.Assemble(mode, question, sources, history, defaultMaxTokens)

	raw, err := g.adapter.Complete(ctx, plan.Prompt, generationParams(defaultMaxTokens))
	if err == nil {
		return PostProcess(raw, sources), mode, nil
	}

	var adapterErr *modeladapter.Error
	if !errorsAsModeladapter(err, &adapterErr) {
		return "", mode, fmt.Errorf("service.Generate: %w", err)
	}
	if adapterErr.Kind != modeladapter.ErrDecodeFailure {
		if adapterErr.Kind == modeladapter.ErrModelNotLoaded || adapterErr.Kind == modeladapter.ErrOOM {
			return "", mode, apierr.Wrap(apierr.ModelUnavailable, "model unavailable", adapterErr)
		}
		return "", mode, fmt.Errorf("service.Generate: %w", err)
	}

	text, fallbackErr := g.simpleFallback(ctx, question, sources)
	if fallbackErr != nil {
		return concatenatedFallback(sources), model.ModeSimpleFallback, nil
	}
	return text, model.ModeSimpleFallback, nil
}

const shortFallbackMaxTokens = 160
const shortFallbackTemperature = 0.3
const shortFallbackSourceCount = 3
const shortFallbackSourceTrim = 300

// simpleFallback runs a short-prompt variant using at most the first three
// source contents truncated to 300 characters each, per spec.md §4.6.
func (g *Generator) simpleFallback(ctx context.Context, question string, sources []model.SourceDocument) (string, error) {
	n := len(sources)
	if n > shortFallbackSourceCount {
		n = shortFallbackSourceCount
	}
	var b strings.Builder
	b.WriteString("Question: " + question + "\n\nContext:\n")
	for i := 0; i < n; i++ {
		b.WriteString(truncateToChars(sources[i].Content, shortFallbackSourceTrim))
		b.WriteString("\n")
	}
	prompt := b.String()

	params := modeladapter.Params{
		MaxTokens:     shortFallbackMaxTokens,
		Temperature:   shortFallbackTemperature,
		TopP:          genTopP,
		TopK:          genTopK,
		RepeatPenalty: genRepeatPenalty,
	}
	raw, err := g.adapter.Complete(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	return PostProcess(raw, sources), nil
}

// concatenatedFallback is the last-resort, model-free answer: the first one
// or two source contents, each trimmed at the first sentence boundary after
// 150 characters (or at 200 characters if no boundary is found), with
// bullet prefixes and a Class-N citation suffix, per spec.md §4.6.
func concatenatedFallback(sources []model.SourceDocument) string {
	if len(sources) == 0 {
		return insufficientInfoMessage
	}
	n := 2
	if len(sources) < n {
		n = len(sources)
	}
	var lines []string
	for i := 0; i < n; i++ {
		snippet := trimAtSentenceBoundary(sources[i].Content, 150, 200)
		lines = append(lines, fmt.Sprintf("- %s (Class %d)", snippet, sources[i].SourceClass))
	}
	return strings.Join(lines, "\n")
}

func trimAtSentenceBoundary(s string, searchFrom, hardLimit int) string {
	if len(s) <= hardLimit {
		return s
	}
	window := s[searchFrom:hardLimit]
	if idx := strings.IndexAny(window, ".!?"); idx >= 0 {
		return s[:searchFrom+idx+1]
	}
	return s[:hardLimit]
}

// errorsAsModeladapter is errors.As specialized to *modeladapter.Error, so
// a *Error wrapped by an intermediate fmt.Errorf("...: %w", ...) is still
// recovered, not just a bare top-level *Error.
func errorsAsModeladapter(err error, target **modeladapter.Error) bool {
	return errors.As(err, target)
}
