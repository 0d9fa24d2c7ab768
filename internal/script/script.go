package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"clipforge/internal/llm"
)

// genericTerms pad the keyword fallback when the LLM cannot be reached.
var genericTerms = []string{
	"nature", "city", "people", "technology", "lifestyle",
	"business", "sunrise", "ocean", "travel", "abstract",
}

// Generator produces narration scripts and visual search terms.
type Generator struct {
	providers   []llm.Provider
	raceTimeout time.Duration
	log         *logrus.Logger
}

// NewGenerator wires the configured LLM providers. raceTimeout bounds a
// multi-provider race end to end.
func NewGenerator(providers []llm.Provider, raceTimeout time.Duration, log *logrus.Logger) *Generator {
	if raceTimeout <= 0 {
		raceTimeout = 60 * time.Second
	}
	return &Generator{providers: providers, raceTimeout: raceTimeout, log: log}
}

const scriptPromptTemplate = `# Role: Video Script Generator

## Goal
Generate a narration script for a video about the subject below.

## Constraints
1. Return the script as plain text, never with markdown, titles or stage directions.
2. Do not mention the word count, the prompt, or yourself.
3. Respond in the same language as the subject unless a language is given.
4. Write exactly %d paragraph(s), each flowing naturally into the next.

## Subject
%s
%s`

// Generate returns plain narration text for the subject, or an empty
// string when every provider fails. The orchestrator treats empty as fatal.
func (g *Generator) Generate(ctx context.Context, subject, language string, paragraphs int) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil
	}
	languageHint := ""
	if language != "" {
		languageHint = "\n## Language\n" + language
	}
	prompt := fmt.Sprintf(scriptPromptTemplate, paragraphs, subject, languageHint)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		g.log.Warnf("[script] generation failed: %v", err)
		return "", err
	}
	return CleanScript(text), nil
}

const termsPromptTemplate = `# Role: Video Search Terms Generator

## Goal
Generate %d search terms for finding stock videos matching the subject.

## Constraints
1. Reply with the terms only, comma separated, nothing else.
2. Each term is 1-3 English words describing a visual concept (objects, locations, actions).
3. Every term must relate to the subject.
4. Terms must always be in English even when the subject is not.

## Subject
%s

## Script
%s`

// ExtractTerms returns exactly amount English search terms. It degrades to
// [subject] padded with generic visuals when the LLM fails; extraction is
// never fatal.
func (g *Generator) ExtractTerms(ctx context.Context, subject, scriptText string, amount int) []string {
	prompt := fmt.Sprintf(termsPromptTemplate, amount, subject, scriptText)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		g.log.Warnf("[terms] extraction failed, falling back to subject: %v", err)
		return fallbackTerms(subject, amount)
	}
	terms := TokenizeTerms(text, amount)
	if len(terms) == 0 {
		return fallbackTerms(subject, amount)
	}
	return padTerms(terms, amount)
}

const translatePromptTemplate = `Translate each of the following video search terms to English.
Reply with the translated terms only, comma separated, in the same order, nothing else.

%s`

// TranslateTerms converts non-English terms to English for re-search.
// On failure the original terms are returned unchanged.
func (g *Generator) TranslateTerms(ctx context.Context, terms []string) []string {
	if len(terms) == 0 {
		return terms
	}
	prompt := fmt.Sprintf(translatePromptTemplate, strings.Join(terms, ", "))
	text, err := g.generate(ctx, prompt)
	if err != nil {
		g.log.Warnf("[terms] translation failed: %v", err)
		return terms
	}
	translated := TokenizeTerms(text, len(terms))
	if len(translated) == 0 {
		return terms
	}
	return translated
}

func (g *Generator) generate(ctx context.Context, prompt string) (string, error) {
	if len(g.providers) == 1 {
		return llm.GenerateWithRetry(ctx, g.providers[0], prompt, g.log)
	}
	return llm.Race(ctx, g.providers, prompt, g.raceTimeout, g.log)
}

var (
	markdownHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+.*$`)
	markdownEmphasis = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	blankRuns        = regexp.MustCompile(`\n{3,}`)
)

// CleanScript strips markdown artifacts and labels that LLMs like to add
// despite instructions, leaving plain narration.
func CleanScript(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = markdownHeading.ReplaceAllString(s, "")
	s = markdownEmphasis.ReplaceAllString(s, "$1")

	var kept []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "title:") || strings.HasPrefix(lower, "script:") {
			continue
		}
		kept = append(kept, trimmed)
	}
	s = strings.Join(kept, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// TokenizeTerms splits an LLM response into at most amount terms, accepting
// comma or newline separation and shedding numbering and quotes.
func TokenizeTerms(s string, amount int) []string {
	s = strings.ReplaceAll(s, "\n", ",")
	var terms []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(s, ",") {
		term := strings.TrimSpace(raw)
		term = strings.Trim(term, `"'`)
		term = strings.TrimLeft(term, "0123456789.- ")
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, term)
		if len(terms) == amount {
			break
		}
	}
	return terms
}

// padTerms tops a short LLM result up to amount with generic visuals,
// skipping duplicates.
func padTerms(terms []string, amount int) []string {
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range genericTerms {
		if len(terms) >= amount {
			break
		}
		if seen[t] {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

func fallbackTerms(subject string, amount int) []string {
	terms := []string{subject}
	for _, t := range genericTerms {
		if len(terms) == amount {
			break
		}
		terms = append(terms, t)
	}
	if len(terms) > amount {
		terms = terms[:amount]
	}
	return terms
}
