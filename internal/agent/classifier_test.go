package agent

import (
	"strings"
	"testing"

	"github.com/arclight-ai/dispatch/internal/modelrouter"
)

func TestClassifyComplexity(t *testing.T) {
	cases := []struct {
		input string
		want  modelrouter.Complexity
	}{
		{"summarize this article", modelrouter.ComplexitySimple},
		{"translate to french", modelrouter.ComplexitySimple},
		{"analyze market trends for Q3", modelrouter.ComplexityComplex},
		{"plan the migration", modelrouter.ComplexityComplex},
		{"hello there", modelrouter.ComplexityStandard},
		// A complex signal wins even when a simple one is present.
		{"summarize and then analyze the results", modelrouter.ComplexityComplex},
	}
	for _, tc := range cases {
		if got := ClassifyComplexity(tc.input); got != tc.want {
			t.Errorf("ClassifyComplexity(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestClassifyLongInputNeverSimple(t *testing.T) {
	long := "summarize " + strings.Repeat("x", 2100)
	if got := ClassifyComplexity(long); got == modelrouter.ComplexitySimple {
		t.Errorf("expected long input to escape the simple tier, got %q", got)
	}
}
