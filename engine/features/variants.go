package features

import (
	"fmt"
	"sort"
)

// Variant identifiers.
const (
	VariantDiabetes012    = "diabetes_012"
	VariantDiabetesBinary = "diabetes_binary"
)

// DefaultVariant is served when neither configuration nor the bundle names one.
const DefaultVariant = VariantDiabetes012

// The questionnaire asks about heart attack and stroke in one question; its
// answer stands in for both model features.
const fieldHeartAttackOrStroke = "HeartAttackOrStroke"

// diabetes012 is the 21-feature, three-class layout (0 no diabetes,
// 1 prediabetes, 2 diabetes) of the BRFSS diabetes indicators dataset.
var diabetes012 = Variant{
	ID: VariantDiabetes012,
	Features: []Feature{
		{Name: "HighBP", Kind: KindRequested, Source: "HighBP", Default: 0},
		{Name: "HighChol", Kind: KindRequested, Source: "HighChol", Default: 0},
		{Name: "CholCheck", Kind: KindAssumed, Default: 1,
			Rationale: "not asked; assume cholesterol was checked in the last five years"},
		{Name: "BMI", Kind: KindDerived, Default: 25.0,
			Rationale: "weight / (height/100)^2; 25.0 when height or weight is missing"},
		{Name: "Smoker", Kind: KindRequested, Source: "Smoker", Default: 0},
		{Name: "Stroke", Kind: KindRequested, Source: fieldHeartAttackOrStroke, Default: 0,
			Rationale: "shares the combined heart attack or stroke answer"},
		{Name: "HeartDiseaseorAttack", Kind: KindRequested, Source: fieldHeartAttackOrStroke, Default: 0,
			Rationale: "shares the combined heart attack or stroke answer"},
		{Name: "PhysActivity", Kind: KindRequested, Source: "PhysActivity", Default: 0},
		{Name: "Fruits", Kind: KindAssumed, Default: 1,
			Rationale: "not asked; assume fruit at least once a day"},
		{Name: "Veggies", Kind: KindAssumed, Default: 1,
			Rationale: "not asked; assume vegetables at least once a day"},
		{Name: "HvyAlcoholConsump", Kind: KindAssumed, Default: 0,
			Rationale: "not asked; assume no heavy drinking"},
		{Name: "AnyHealthcare", Kind: KindAssumed, Default: 1,
			Rationale: "not asked; assume some form of health coverage"},
		{Name: "NoDocbcCost", Kind: KindRequested, Source: "NoDoc", Default: 0,
			Rationale: "no cost barrier to seeing a doctor unless answered"},
		{Name: "GenHlth", Kind: KindRequested, Source: "GenHlth", Default: 3,
			Rationale: "middle of the 1 (excellent) to 5 (poor) scale"},
		{Name: "MentHlth", Kind: KindAssumed, Default: 2,
			Rationale: "not asked; population-typical 2 poor mental health days per month"},
		{Name: "PhysHlth", Kind: KindAssumed, Default: 2,
			Rationale: "not asked; population-typical 2 poor physical health days per month"},
		{Name: "DiffWalk", Kind: KindRequested, Source: "DiffWalk", Default: 0},
		{Name: "Sex", Kind: KindRequested, Source: "Sex", Default: 0},
		{Name: "Age", Kind: KindRequested, Source: "age", Default: 1,
			Rationale: "13-level age bucket; 1 is 18-24"},
		{Name: "Education", Kind: KindRequested, Source: "Education", Default: 4,
			Rationale: "high school graduate"},
		{Name: "Income", Kind: KindRequested, Source: "Income", Default: 5,
			Rationale: "middle income bracket"},
	},
	BMIFallback:                 25.0,
	Classes:                     []string{"no_diabetes", "prediabetes", "diabetes"},
	Output:                      OutputRiskSum,
	InferenceErrorIsClientError: true,
}

// diabetesBinary is the 13-feature, two-class layout.
var diabetesBinary = Variant{
	ID: VariantDiabetesBinary,
	Features: []Feature{
		{Name: "HighBP", Kind: KindRequested, Source: "HighBP", Default: 0},
		{Name: "HighChol", Kind: KindRequested, Source: "HighChol", Default: 0},
		{Name: "CholCheck", Kind: KindAssumed, Default: 1,
			Rationale: "not asked; assume cholesterol was checked in the last five years"},
		{Name: "BMI", Kind: KindDerived, Default: 0,
			Rationale: "weight / (height/100)^2; 0 when height or weight is missing"},
		{Name: "Smoker", Kind: KindRequested, Source: "Smoker", Default: 0},
		{Name: "HeartDiseaseorAttack", Kind: KindRequested, Source: fieldHeartAttackOrStroke, Default: 0,
			Rationale: "fed by the combined heart attack or stroke answer"},
		{Name: "PhysActivity", Kind: KindRequested, Source: "PhysActivity", Default: 0},
		{Name: "HvyAlcoholConsump", Kind: KindAssumed, Default: 0,
			Rationale: "not asked; assume no heavy drinking"},
		{Name: "NoDocbcCost", Kind: KindRequested, Source: "NoDoc", Default: 1,
			Rationale: "unanswered counts as a cost barrier; this model was trained with the conservative reading"},
		{Name: "GenHlth", Kind: KindRequested, Source: "GenHlth", Default: 3,
			Rationale: "middle of the 1 (excellent) to 5 (poor) scale"},
		{Name: "DiffWalk", Kind: KindRequested, Source: "DiffWalk", Default: 0},
		{Name: "Sex", Kind: KindRequested, Source: "Sex", Default: 0},
		{Name: "Age", Kind: KindRequested, Source: "age", Default: 1,
			Rationale: "13-level age bucket; 1 is 18-24"},
	},
	BMIFallback: 0,
	Classes:     []string{"negative", "positive"},
	Output:      OutputBinary,
	Threshold:   0.5,
}

var registry = map[string]Variant{
	VariantDiabetes012:    diabetes012,
	VariantDiabetesBinary: diabetesBinary,
}

// Lookup returns a copy of the named variant.
func Lookup(id string) (Variant, error) {
	v, ok := registry[id]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, id)
	}
	return v.Clone(), nil
}

// IDs lists the known variant identifiers in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
