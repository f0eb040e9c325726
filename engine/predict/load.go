package predict

import (
	"errors"
	"fmt"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
)

// ErrVariantMismatch is returned when a bundle was trained for another variant.
var ErrVariantMismatch = errors.New("bundle variant mismatch")

// Validate checks that b can serve v: same recorded variant, the same
// feature order when the bundle records names, the same width and the same
// number of classes.
func Validate(b *model.Bundle, v features.Variant) error {
	if b.Variant != "" && b.Variant != v.ID {
		return fmt.Errorf("%w: bundle is %q, serving %q", ErrVariantMismatch, b.Variant, v.ID)
	}
	if len(b.FeatureNames) > 0 {
		if err := v.Check(b.FeatureNames); err != nil {
			return err
		}
	}
	if b.NumFeatures() != v.Len() {
		return fmt.Errorf("%w: variant %s has %d features, bundle takes %d",
			features.ErrSchemaMismatch, v.ID, v.Len(), b.NumFeatures())
	}
	if len(b.Classes) != len(v.Classes) {
		return fmt.Errorf("%w: variant %s has %d classes, bundle has %d",
			features.ErrSchemaMismatch, v.ID, len(v.Classes), len(b.Classes))
	}
	return nil
}

// Loader returns a model.LoadFunc that loads path and validates it against v.
// A bundle that fails validation is closed and never served.
func Loader(path string, v features.Variant, opts ...model.Option) model.LoadFunc {
	return func() (*model.Bundle, error) {
		b, err := model.Load(path, opts...)
		if err != nil {
			return nil, err
		}
		if err := Validate(b, v); err != nil {
			b.Close()
			return nil, fmt.Errorf("predict: %s: %w", path, err)
		}
		return b, nil
	}
}

// ResolveVariant picks the variant to serve: id when set, else the variant
// recorded in b, else features.DefaultVariant. Overrides are applied to the
// result.
func ResolveVariant(id string, b *model.Bundle, ov features.Overrides) (features.Variant, error) {
	if id == "" && b != nil {
		id = b.Variant
	}
	if id == "" {
		id = features.DefaultVariant
	}
	v, err := features.Lookup(id)
	if err != nil {
		return features.Variant{}, err
	}
	return ov.Apply(v)
}
