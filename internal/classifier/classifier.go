// Package classifier implements the prompt classifier (C4): a pure
// keyword/phrase scorer across a fixed set of business categories with
// source-biased tie-breaking.
package classifier

import (
	"math"
	"regexp"
	"strings"
)

// Category names. general_qa is the fallback, never scored directly.
const (
	CategoryCodeGeneration       = "code_generation"
	CategoryDocumentCreation     = "document_creation"
	CategoryBusinessDevelopment  = "business_development"
	CategoryHumanResources       = "human_resources"
	CategoryAccountingFinance    = "accounting_finance"
	CategoryGeneralQA            = "general_qa"
)

// Classification is the classifier's verdict for one prompt.
type Classification struct {
	Category   string
	Confidence float64
	Secondary  *string
}

type category struct {
	name    string
	phrases []string
	words   []string
}

// categories is iterated in this fixed order; ties on score are broken
// by this order (first listed wins), per the classifier's documented
// scoring-determinism contract.
var categories = []category{
	{
		name: CategoryCodeGeneration,
		phrases: []string{
			"write code", "debug this", "fix the bug", "refactor this function",
			"write a function", "code review", "unit test",
		},
		words: []string{
			"code", "function", "bug", "debug", "refactor", "python", "javascript",
			"golang", "script", "algorithm", "compile", "syntax", "variable",
			"class", "method", "repository", "commit",
		},
	},
	{
		name: CategoryDocumentCreation,
		phrases: []string{
			"write a document", "draft a memo", "create a report", "write an essay",
			"draft a letter", "executive summary",
		},
		words: []string{
			"document", "report", "essay", "memo", "draft", "letter", "proposal",
			"summary", "paragraph", "outline", "manuscript",
		},
	},
	{
		name: CategoryBusinessDevelopment,
		phrases: []string{
			"request for proposal", "government contract", "teaming agreement",
			"statement of work", "past performance",
		},
		words: []string{
			"rfp", "contract", "capture", "pipeline", "teaming", "solicitation",
			"procurement", "bid", "r&d",
		},
	},
	{
		name: CategoryHumanResources,
		phrases: []string{
			"performance review", "employee handbook", "job description",
			"onboarding process", "exit interview",
		},
		words: []string{
			"hr", "employee", "hiring", "recruiting", "benefits", "payroll",
			"termination", "onboarding", "interview", "headcount",
		},
	},
	{
		name: CategoryAccountingFinance,
		phrases: []string{
			"balance sheet", "income statement", "accounts payable",
			"accounts receivable", "cash flow statement",
		},
		words: []string{
			"accounting", "invoice", "ledger", "expense", "revenue", "tax",
			"audit", "reconciliation", "finance", "p&l",
		},
	},
}

var nonCategoryChar = regexp.MustCompile(`[^A-Za-z0-9_&\s]`)

// Classify scores text against the fixed category list and returns the
// winner, its confidence, and an optional runner-up. source "cli" biases
// code_generation by +4, matching the spec's CLI heuristic.
func Classify(text, source string) Classification {
	normalized := normalize(text)
	scores := make([]float64, len(categories))
	for i, c := range categories {
		scores[i] = score(normalized, c)
	}
	if source == "cli" {
		for i, c := range categories {
			if c.name == CategoryCodeGeneration {
				scores[i] += 4
			}
		}
	}

	topIdx, secondIdx := -1, -1
	for i := range categories {
		switch {
		case topIdx == -1 || scores[i] > scores[topIdx]:
			secondIdx = topIdx
			topIdx = i
		case secondIdx == -1 || scores[i] > scores[secondIdx]:
			secondIdx = i
		}
	}

	if scores[topIdx] == 0 {
		return Classification{Category: CategoryGeneralQA, Confidence: 1}
	}

	top := scores[topIdx]
	var second float64
	if secondIdx != -1 {
		second = scores[secondIdx]
	}

	confidence := round2(top / (top + second))

	var secondary *string
	if secondIdx != -1 && scores[secondIdx] > 0 {
		name := categories[secondIdx].name
		secondary = &name
	}

	return Classification{
		Category:   categories[topIdx].name,
		Confidence: confidence,
		Secondary:  secondary,
	}
}

func normalize(text string) string {
	lower := strings.ToLower(text)
	return nonCategoryChar.ReplaceAllString(lower, " ")
}

func score(normalized string, c category) float64 {
	total := 0
	for _, p := range c.phrases {
		total += 3 * strings.Count(normalized, p)
	}
	for _, w := range c.words {
		if strings.Contains(w, "&") {
			total += strings.Count(normalized, w)
			continue
		}
		total += countWholeWord(normalized, w)
	}
	return float64(total)
}

func countWholeWord(text, word string) int {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return len(re.FindAllStringIndex(text, -1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
