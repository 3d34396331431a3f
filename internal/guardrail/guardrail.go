// Package guardrail implements the two independent checks spec.md §4.3
// describes: pattern-based injection detection on inbound questions, and a
// content-domain keyword relevance filter applied to candidate documents.
// Both are grounded in the original Python implementation's
// _apply_guardrails and _check_content_relevance.
package guardrail

import (
	"regexp"
	"strings"
)

// RefusalMessage is returned verbatim when the injection detector trips.
const RefusalMessage = "I can only help with educational questions related to the NCERT curriculum. I can't follow instructions that try to change my role or reveal internal configuration."

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore previous instructions`),
	regexp.MustCompile(`(?i)forget your role`),
	regexp.MustCompile(`(?i)act as if`),
	regexp.MustCompile(`(?i)pretend to be`),
	regexp.MustCompile(`(?i)^\s*system\s*:`),
	regexp.MustCompile(`(?i)<system>`),
	regexp.MustCompile(`(?i)override system`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)developer mode`),
	regexp.MustCompile(`(?i)admin access`),
	regexp.MustCompile(`(?i)reveal prompt`),
	regexp.MustCompile(`(?i)show instructions`),
}

var systemKeywords = map[string]bool{
	"system": true, "assistant": true, "user": true,
	"admin": true, "root": true, "override": true,
}

var suspiciousFormatting = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<system>`),
	regexp.MustCompile(`[{}]`),
	regexp.MustCompile("```"),
}

const (
	systemKeywordThreshold    = 3 // > 3 triggers refusal
	suspiciousFormatThreshold = 2 // > 2 matches triggers refusal
)

var wordSplit = regexp.MustCompile(`[^a-zA-Z]+`)

// DetectInjection reports whether question should be refused, per spec.md
// §4.3: a pattern match, or more than 3 occurrences of words in the
// system-keyword set, or more than 2 suspicious-formatting matches.
func DetectInjection(question string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(question) {
			return true
		}
	}

	keywordCount := 0
	for _, w := range wordSplit.Split(strings.ToLower(question), -1) {
		if systemKeywords[w] {
			keywordCount++
		}
	}
	if keywordCount > systemKeywordThreshold {
		return true
	}

	formatCount := 0
	for _, p := range suspiciousFormatting {
		formatCount += len(p.FindAllString(question, -1))
	}
	if formatCount > suspiciousFormatThreshold {
		return true
	}

	return false
}

// Domain is a subject-matter vocabulary used for content relevance checks.
type Domain string

const (
	DomainMath      Domain = "math"
	DomainPhysics   Domain = "physics"
	DomainChemistry Domain = "chemistry"
)

var vocabularies = map[Domain][]string{
	DomainMath: {
		"angle", "triangle", "trigonometry", "tan", "sin", "cos", "elevation",
		"height", "distance", "theorem", "equation", "formula", "calculate",
		"solve", "degree",
	},
	DomainPhysics: {
		"force", "motion", "velocity", "acceleration", "energy", "work",
		"power", "mass", "momentum", "gravity", "friction", "electromagnetic",
		"wave",
	},
	DomainChemistry: {
		"element", "compound", "reaction", "molecule", "atom", "bond",
		"solution", "acid", "base", "oxidation", "reduction", "periodic",
	},
}

// domainsOf returns every Domain whose vocabulary has a case-insensitive
// substring match in text.
func domainsOf(text string) []Domain {
	lower := strings.ToLower(text)
	var matched []Domain
	for _, d := range []Domain{DomainMath, DomainPhysics, DomainChemistry} {
		for _, kw := range vocabularies[d] {
			if strings.Contains(lower, kw) {
				matched = append(matched, d)
				break
			}
		}
	}
	return matched
}

// QuestionDomains returns the subject domains a question maps to, by
// keyword presence. An empty result means the question has no detected
// subject domain.
func QuestionDomains(question string) []Domain {
	return domainsOf(question)
}

// ContentRelevant reports whether a candidate document should be kept for a
// question that maps to the given domains. If questionDomains is empty, the
// candidate is always accepted (the question has no detected subject). If
// non-empty, the candidate must contain at least one keyword from at least
// one of those domains.
func ContentRelevant(content string, questionDomains []Domain) bool {
	if len(questionDomains) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, d := range questionDomains {
		for _, kw := range vocabularies[d] {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
