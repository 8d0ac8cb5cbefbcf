package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Block is a nested plug-in configuration: a type tag selecting the
// implementation plus that implementation's own parameters.
//
//	projectorPair:
//	  type: Separate Projectors
//	  forward:
//	    type: Matrix
type Block struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:",inline"`
}

// NewBlock builds a block from a tag and a parameter struct (or map).
func NewBlock(tag string, params interface{}) (Block, error) {
	b := Block{Type: tag}
	if params == nil {
		return b, nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return Block{}, fmt.Errorf("error marshaling %s parameters: %w", tag, err)
	}
	if err := yaml.Unmarshal(data, &b.Params); err != nil {
		return Block{}, fmt.Errorf("error converting %s parameters: %w", tag, err)
	}
	return b, nil
}

// MustBlock is NewBlock for static defaults; it panics on error.
func MustBlock(tag string, params interface{}) Block {
	b, err := NewBlock(tag, params)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalYAML replaces the block wholesale so that a block read from a
// file never inherits parameters from the default it overrides.
func (b *Block) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]interface{}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	b.Type, b.Params = "", nil
	if t, ok := raw["type"]; ok {
		tag, isString := t.(string)
		if !isString {
			return fmt.Errorf("block type must be a string, got %v", t)
		}
		b.Type = tag
		delete(raw, "type")
	}
	if len(raw) > 0 {
		b.Params = raw
	}
	return nil
}

// MarshalYAML writes the type tag alongside the parameters.
func (b Block) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(b.Params)+1)
	for k, v := range b.Params {
		out[k] = v
	}
	out["type"] = b.Type
	return out, nil
}

// IsZero reports whether no type was configured.
func (b Block) IsZero() bool { return b.Type == "" }

// Decode fills v from the block parameters. Fields missing from the block
// keep the values already present in v, so callers pass v pre-set to defaults.
func (b Block) Decode(v interface{}) error {
	if len(b.Params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("error marshaling %s parameters: %w", b.Type, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing %s parameters: %w", b.Type, err)
	}
	return nil
}
