package features

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diacheck/diacheck/engine/survey"
)

func mustVariant(t *testing.T, id string) Variant {
	t.Helper()
	v, err := Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	return v
}

func record(t *testing.T, body string) survey.Record {
	t.Helper()
	rec, err := survey.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return rec
}

func TestBMI(t *testing.T) {
	tests := []struct {
		name           string
		weight, height float64
		fallback       float64
		want           float64
	}{
		{"normal", 70, 175, 25, 70 / (1.75 * 1.75)},
		{"zero height", 70, 0, 25, 25},
		{"negative height", 70, -10, 0, 0},
		{"zero weight", 0, 175, 25, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BMI(tt.weight, tt.height, tt.fallback)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMapVectorLength(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"HighBP":1}`,
		`{"weight":80,"height":180,"age":9,"Income":8,"Education":6}`,
		`{"unknown":3}`,
	}
	for _, id := range IDs() {
		v := mustVariant(t, id)
		m := NewMapper(v)
		for _, body := range bodies {
			vec, err := m.Map(record(t, body))
			if err != nil {
				t.Fatalf("%s %s: %v", id, body, err)
			}
			if len(vec) != v.Len() {
				t.Fatalf("%s: expected %d features, got %d", id, v.Len(), len(vec))
			}
		}
	}
	if got := mustVariant(t, VariantDiabetes012).Len(); got != 21 {
		t.Fatalf("expected 21 features, got %d", got)
	}
	if got := mustVariant(t, VariantDiabetesBinary).Len(); got != 13 {
		t.Fatalf("expected 13 features, got %d", got)
	}
}

func TestMapScenarioOne(t *testing.T) {
	v := mustVariant(t, VariantDiabetes012)
	vec, err := NewMapper(v).Map(record(t, `{"HighBP":1,"HighChol":0,"weight":70,"height":175,"age":5,"GenHlth":2}`))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	want := Vector{
		1,       // HighBP
		0,       // HighChol
		1,       // CholCheck
		22.8571, // BMI
		0,       // Smoker
		0,       // Stroke
		0,       // HeartDiseaseorAttack
		0,       // PhysActivity
		1,       // Fruits
		1,       // Veggies
		0,       // HvyAlcoholConsump
		1,       // AnyHealthcare
		0,       // NoDocbcCost
		2,       // GenHlth
		2,       // MentHlth
		2,       // PhysHlth
		0,       // DiffWalk
		0,       // Sex
		5,       // Age
		4,       // Education
		5,       // Income
	}
	for i := range want {
		if math.Abs(vec[i]-want[i]) > 1e-4 {
			t.Fatalf("position %d (%s): expected %v, got %v", i+1, v.Features[i].Name, want[i], vec[i])
		}
	}
}

func TestMapBMIFallback(t *testing.T) {
	tests := []struct {
		variant string
		body    string
		want    float64
	}{
		{VariantDiabetes012, `{"weight":70,"height":0}`, 25},
		{VariantDiabetes012, `{"weight":70,"height":-5}`, 25},
		{VariantDiabetes012, `{"weight":70}`, 25},
		{VariantDiabetes012, `{"height":170}`, 25},
		{VariantDiabetesBinary, `{"weight":70,"height":0}`, 0},
		{VariantDiabetesBinary, `{}`, 0},
	}
	for _, tt := range tests {
		v := mustVariant(t, tt.variant)
		vec, err := NewMapper(v).Map(record(t, tt.body))
		if err != nil {
			t.Fatalf("%s %s: %v", tt.variant, tt.body, err)
		}
		if got := vec[v.Index("BMI")]; got != tt.want {
			t.Fatalf("%s %s: expected BMI %v, got %v", tt.variant, tt.body, tt.want, got)
		}
	}
}

func TestMapAliasing(t *testing.T) {
	tests := []struct {
		variant   string
		positions []string
	}{
		{VariantDiabetes012, []string{"Stroke", "HeartDiseaseorAttack"}},
		{VariantDiabetesBinary, []string{"HeartDiseaseorAttack"}},
	}
	for _, tt := range tests {
		v := mustVariant(t, tt.variant)
		vec, err := NewMapper(v).Map(record(t, `{"HeartAttackOrStroke":1}`))
		if err != nil {
			t.Fatalf("Map: %v", err)
		}
		for _, name := range tt.positions {
			if got := vec[v.Index(name)]; got != 1 {
				t.Fatalf("%s: expected %s=1, got %v", tt.variant, name, got)
			}
		}
	}

	aliases := mustVariant(t, VariantDiabetes012).Aliases()
	idx := aliases["HeartAttackOrStroke"]
	if len(aliases) != 1 || len(idx) != 2 || idx[0] != 5 || idx[1] != 6 {
		t.Fatalf("unexpected alias table %v", aliases)
	}
	if got := mustVariant(t, VariantDiabetesBinary).Aliases(); len(got) != 0 {
		t.Fatalf("binary variant should declare no aliases, got %v", got)
	}
}

// Every position's default, checked one by one with an empty request.
func TestMapDefaultsFieldByField(t *testing.T) {
	tests := map[string]map[string]float64{
		VariantDiabetes012: {
			"HighBP": 0, "HighChol": 0, "CholCheck": 1, "BMI": 25, "Smoker": 0,
			"Stroke": 0, "HeartDiseaseorAttack": 0, "PhysActivity": 0, "Fruits": 1,
			"Veggies": 1, "HvyAlcoholConsump": 0, "AnyHealthcare": 1, "NoDocbcCost": 0,
			"GenHlth": 3, "MentHlth": 2, "PhysHlth": 2, "DiffWalk": 0, "Sex": 0,
			"Age": 1, "Education": 4, "Income": 5,
		},
		VariantDiabetesBinary: {
			"HighBP": 0, "HighChol": 0, "CholCheck": 1, "BMI": 0, "Smoker": 0,
			"HeartDiseaseorAttack": 0, "PhysActivity": 0, "HvyAlcoholConsump": 0,
			"NoDocbcCost": 1, "GenHlth": 3, "DiffWalk": 0, "Sex": 0, "Age": 1,
		},
	}
	for id, defaults := range tests {
		v := mustVariant(t, id)
		if len(defaults) != v.Len() {
			t.Fatalf("%s: table covers %d of %d features", id, len(defaults), v.Len())
		}
		vec, err := NewMapper(v).Map(record(t, `{}`))
		if err != nil {
			t.Fatalf("Map: %v", err)
		}
		for name, want := range defaults {
			i := v.Index(name)
			if i < 0 {
				t.Fatalf("%s: missing feature %s", id, name)
			}
			if vec[i] != want {
				t.Fatalf("%s.%s: expected default %v, got %v", id, name, want, vec[i])
			}
			if v.Features[i].Default != want {
				t.Fatalf("%s.%s: table default %v, want %v", id, name, v.Features[i].Default, want)
			}
		}
	}
}

// Assumed constants are never read from the request, and each one carries
// a rationale.
func TestAssumedConstants(t *testing.T) {
	want := map[string][]string{
		VariantDiabetes012: {
			"CholCheck", "Fruits", "Veggies", "HvyAlcoholConsump",
			"AnyHealthcare", "MentHlth", "PhysHlth",
		},
		VariantDiabetesBinary: {"CholCheck", "HvyAlcoholConsump"},
	}
	for id, names := range want {
		v := mustVariant(t, id)
		var got []string
		for _, f := range v.Features {
			if f.Kind != KindAssumed {
				continue
			}
			got = append(got, f.Name)
			if f.Rationale == "" {
				t.Fatalf("%s.%s: assumed constant without rationale", id, f.Name)
			}
			if f.Source != "" {
				t.Fatalf("%s.%s: assumed constant must not have a source", id, f.Name)
			}
		}
		if strings.Join(got, ",") != strings.Join(names, ",") {
			t.Fatalf("%s: expected assumed %v, got %v", id, names, got)
		}

		body := `{"CholCheck":0,"Fruits":0,"Veggies":0,"HvyAlcoholConsump":1,"AnyHealthcare":0,"MentHlth":30,"PhysHlth":30}`
		vec, err := NewMapper(v).Map(record(t, body))
		if err != nil {
			t.Fatalf("Map: %v", err)
		}
		for _, name := range names {
			i := v.Index(name)
			if vec[i] != v.Features[i].Default {
				t.Fatalf("%s.%s: request value leaked into assumed constant", id, name)
			}
		}
	}
}

func TestDerivedDefaultMatchesFallback(t *testing.T) {
	for _, id := range IDs() {
		v := mustVariant(t, id)
		bmi := v.Features[v.Index("BMI")]
		if bmi.Kind != KindDerived || bmi.Default != v.BMIFallback {
			t.Fatalf("%s: BMI feature %+v disagrees with fallback %v", id, bmi, v.BMIFallback)
		}
	}
}

func TestCheckFeatureNames(t *testing.T) {
	v := mustVariant(t, VariantDiabetesBinary)

	if err := v.Check(v.Names()); err != nil {
		t.Fatalf("Check own names: %v", err)
	}

	lower := v.Names()
	for i := range lower {
		lower[i] = strings.ToLower(lower[i])
	}
	if err := v.Check(lower); err != nil {
		t.Fatalf("Check should be case-insensitive: %v", err)
	}

	if err := v.Check(v.Names()[:12]); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	swapped := v.Names()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	err := v.Check(swapped)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected order mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "position 1") {
		t.Fatalf("expected position in error, got %v", err)
	}
}

func TestLookupUnknownVariant(t *testing.T) {
	if _, err := Lookup("heart_v9"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	v := mustVariant(t, VariantDiabetes012)
	v.Features[0].Default = 99
	if again := mustVariant(t, VariantDiabetes012); again.Features[0].Default != 0 {
		t.Fatal("registry variant was mutated through a lookup")
	}
}

func TestOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := "diabetes_012:\n  MentHlth: 0\n  GenHlth: 2\ndiabetes_binary:\n  NoDocbcCost: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}

	v, err := o.Apply(mustVariant(t, VariantDiabetes012))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	vec, err := NewMapper(v).Map(record(t, `{}`))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if vec[v.Index("MentHlth")] != 0 || vec[v.Index("GenHlth")] != 2 {
		t.Fatalf("overrides not applied: %v", vec)
	}
	// A provided answer still beats an overridden default.
	vec, _ = NewMapper(v).Map(record(t, `{"GenHlth":5}`))
	if vec[v.Index("GenHlth")] != 5 {
		t.Fatalf("expected request value 5, got %v", vec[v.Index("GenHlth")])
	}

	b, err := o.Apply(mustVariant(t, VariantDiabetesBinary))
	if err != nil {
		t.Fatalf("Apply binary: %v", err)
	}
	if b.Features[b.Index("NoDocbcCost")].Default != 0 {
		t.Fatal("binary override not applied")
	}
}

func TestOverridesRejectUnknownAndDerived(t *testing.T) {
	tests := []struct {
		name string
		o    Overrides
	}{
		{"unknown variant", Overrides{"heart": {"HighBP": 1}}},
		{"unknown feature", Overrides{VariantDiabetes012: {"Cholesterol": 1}}},
		{"derived feature", Overrides{VariantDiabetes012: {"BMI": 30}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.o.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadOverridesEmptyPath(t *testing.T) {
	o, err := LoadOverrides("")
	if err != nil || o != nil {
		t.Fatalf("expected no overrides, got %v, %v", o, err)
	}
}
