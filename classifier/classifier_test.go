package classifier

import (
	"context"
	"testing"

	"goa.design/llmrouter/model"
)

func TestRulesClassifiesCodePrompt(t *testing.T) {
	c := NewRules()
	got, err := c.Classify(context.Background(), "Write a function to reverse a linked list, please debug my code")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != model.TypeCode {
		t.Fatalf("expected code classification, got %s", got.Type)
	}
}

func TestRulesConfidenceInBounds(t *testing.T) {
	c := NewRules()
	got, _ := c.Classify(context.Background(), "hello")
	if got.Confidence < 0 || got.Confidence > 1 {
		t.Fatalf("confidence out of [0,1]: %f", got.Confidence)
	}
}

func TestRulesConfidenceClampOption(t *testing.T) {
	c := NewRules(WithConfidenceRange(0, 0.3))
	got, _ := c.Classify(context.Background(), "explain the trade-offs of microservices vs monolith architectures in detail")
	if got.Confidence > 0.3 {
		t.Fatalf("expected confidence clamped to <= 0.3, got %f", got.Confidence)
	}
}

func TestRulesForcedFeatures(t *testing.T) {
	c := NewRules(WithForcedFeatures("priority-customer"))
	got, _ := c.Classify(context.Background(), "hi")
	if !got.HasFeature("priority-customer") {
		t.Fatal("expected forced feature to be present")
	}
}

func TestMLClassifiesMathPrompt(t *testing.T) {
	c := NewML()
	got, err := c.Classify(context.Background(), "solve the following equation: x^2 = 4, show your proof")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != model.TypeMathematical {
		t.Fatalf("expected mathematical classification, got %s", got.Type)
	}
}

func TestComplexityIncreasesWithLength(t *testing.T) {
	c := NewRules()
	short, _ := c.Classify(context.Background(), "hi")

	long := "Please analyze the architectural trade-offs between microservices and a modular monolith for a team of twelve engineers. " +
		"Consider deployment cadence, operational overhead, failure isolation, data consistency across service boundaries, and the " +
		"long-term maintenance burden of each approach. Provide a recommendation with supporting rationale for each major point."
	longResult, _ := c.Classify(context.Background(), long)

	order := map[model.Complexity]int{
		model.ComplexitySimple: 0, model.ComplexityMedium: 1,
		model.ComplexityComplex: 2, model.ComplexityVeryComplex: 3,
	}
	if order[longResult.Complexity] <= order[short.Complexity] {
		t.Fatalf("expected longer prompt to have higher complexity: short=%s long=%s", short.Complexity, longResult.Complexity)
	}
}

func TestEstimatedCompletionTokensPositive(t *testing.T) {
	c := NewRules()
	got, _ := c.Classify(context.Background(), "write a short story about a robot")
	if got.EstimatedCompletionTokens <= 0 {
		t.Fatalf("expected positive completion token estimate, got %d", got.EstimatedCompletionTokens)
	}
}
