package predict

import (
	"time"

	"github.com/diacheck/diacheck/engine/model"
)

// DoneSuffix is appended to the reload subject for ReloadEvent announcements.
const DoneSuffix = ".done"

// ReloadCommand asks a running service to reload its bundle.
type ReloadCommand struct {
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ReloadEvent describes the bundle serving after a successful reload.
type ReloadEvent struct {
	Variant  string    `json:"variant" yaml:"variant"`
	Features int       `json:"features" yaml:"features"`
	Kind     string    `json:"kind,omitempty" yaml:"kind,omitempty"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// EventFor describes b as served for variant.
func EventFor(variant string, b *model.Bundle) ReloadEvent {
	return ReloadEvent{
		Variant:  variant,
		Features: b.NumFeatures(),
		Kind:     b.Kind,
		Source:   b.Source,
		LoadedAt: b.LoadedAt,
	}
}
