package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/tracet/core/model"
)

// Definitions lists the streams and triggers the engine evaluates.
type Definitions struct {
	Streams  []model.Stream  `json:"streams"`
	Triggers []model.Trigger `json:"triggers"`
}

// LoadDefinitions reads stream and trigger definitions from a YAML or JSON file.
func LoadDefinitions(path string) (*Definitions, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	var defs Definitions
	if err := k.UnmarshalWithConf("", &defs, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validate checks stream names are unique and that triggers only reference
// known streams of a single format.
func (d Definitions) Validate() error {
	streams := make(map[string]model.Stream, len(d.Streams))
	for _, s := range d.Streams {
		if s.Name == "" {
			return fmt.Errorf("stream name is required")
		}
		if _, dup := streams[s.Name]; dup {
			return fmt.Errorf("duplicate stream %s", s.Name)
		}
		if !s.Format.Valid() {
			return fmt.Errorf("stream %s: unknown format %q", s.Name, s.Format)
		}
		streams[s.Name] = s
	}
	ids := make(map[string]bool, len(d.Triggers))
	for _, t := range d.Triggers {
		if ids[t.ID] {
			return fmt.Errorf("duplicate trigger %s", t.ID)
		}
		ids[t.ID] = true
		if err := model.ValidateTrigger(t, streams); err != nil {
			return err
		}
	}
	return nil
}
