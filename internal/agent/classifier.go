package agent

import (
	"strings"

	"github.com/arclight-ai/dispatch/internal/modelrouter"
)

// simpleKeywords indicate lightweight requests served by the light tier.
var simpleKeywords = []string{
	"summarize",
	"translate",
	"classify",
	"extract",
	"typo",
	"format",
	"lookup",
}

// complexKeywords indicate requests that need the heavy tier.
var complexKeywords = []string{
	"analyze",
	"plan",
	"multi-step",
	"negotiate",
	"draft proposal",
	"reconcile",
	"forecast",
}

// ClassifyComplexity derives a complexity class from the task input when
// the caller did not declare one. Complex signals win over simple ones;
// long inputs are never simple.
func ClassifyComplexity(input string) modelrouter.Complexity {
	lower := strings.ToLower(input)

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return modelrouter.ComplexityComplex
		}
	}
	if len(input) > 2000 {
		return modelrouter.ComplexityStandard
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			return modelrouter.ComplexitySimple
		}
	}
	return modelrouter.ComplexityStandard
}
