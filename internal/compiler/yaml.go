package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/varkeep/internal/ir"
)

// DefinitionDoc is the YAML shape of one variable. The scenario harness
// embeds the same shape inline.
type DefinitionDoc struct {
	DisplayName string         `yaml:"display_name"`
	Scope       string         `yaml:"scope"`
	Type        string         `yaml:"type"`
	Initial     string         `yaml:"initial"`
	Reset       string         `yaml:"reset"`
	Conditions  []string       `yaml:"conditions"`
	Limits      ir.Limitations `yaml:"limits"`
}

// definitionsFile is the YAML document root.
type definitionsFile struct {
	Variables map[string]DefinitionDoc `yaml:"variables"`
}

// DecodeYAML parses a YAML definitions document:
//
//	variables:
//	  gold:
//	    scope: global
//	    type: INT
//	    initial: 0
//	    limits:
//	      max: 1000
//
// Unknown fields are rejected. Definitions are returned sorted by key.
func DecodeYAML(data []byte, filename string) ([]ir.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc definitionsFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []ir.Definition{}, nil
		}
		return nil, fmt.Errorf("%s: parse YAML: %w", filename, err)
	}

	return FromDocs(doc.Variables, filename)
}

// FromDocs converts decoded YAML documents to definitions sorted by key.
func FromDocs(docs map[string]DefinitionDoc, filename string) ([]ir.Definition, error) {
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	defs := make([]ir.Definition, 0, len(keys))
	for _, key := range keys {
		doc := docs[key]
		scope, err := ir.ParseScope(doc.Scope)
		if err != nil {
			return nil, fmt.Errorf("%s: variables.%s.scope: %w", filename, key, err)
		}
		typ, err := ir.ParseValueType(doc.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: variables.%s.type: %w", filename, key, err)
		}
		defs = append(defs, ir.Definition{
			Key:         key,
			DisplayName: doc.DisplayName,
			Scope:       scope,
			Type:        typ,
			Initial:     doc.Initial,
			ResetCycle:  doc.Reset,
			Conditions:  doc.Conditions,
			Limits:      doc.Limits,
		})
	}
	return defs, nil
}
