// Package schemafile stores the schema document as YAML next to the input
// table. The layout is:
//
//	factors:
//	  - name: treatment
//	    values: [control, drug]
//	headers: [gene, a1, a2]
//	feature_id_columns: [gene]
//	sample_factor_mapping:
//	  a1:
//	    treatment: control
package schemafile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gopade/domain/design"
	"gopade/internal/errors"
	"gopade/ports"
)

const (
	factorsComment = "This lists all the factors defined for this file."
	headersComment = "These are the headers in the input file. Do not change them."
	idsComment     = "This lists all of the columns that contain feature ids (for example gene ids)."
	mappingComment = `This sets the factors for every column that holds a sample. Fill in
each factor for each sample, for example:

sample_factor_mapping:
  sample1:
    treated: "yes"
  sample2:
    treated: "no"`
)

// level decodes any YAML scalar as its literal text, so yes, 1 and 2.5
// stay the strings the user typed. Null is unassigned.
type level string

func (l *level) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar level, got %s", n.Line, kindName(n.Kind))
	}
	if n.Tag == "!!null" {
		*l = ""
		return nil
	}
	*l = level(n.Value)
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a list"
	case yaml.MappingNode:
		return "a mapping"
	}
	return "a non-scalar"
}

type factorDoc struct {
	Name   string  `yaml:"name"`
	Values []level `yaml:"values"`
}

type document struct {
	Factors             []factorDoc                 `yaml:"factors"`
	Headers             []string                    `yaml:"headers"`
	FeatureIDColumns    []string                    `yaml:"feature_id_columns"`
	SampleFactorMapping map[string]map[string]level `yaml:"sample_factor_mapping"`
}

// Store is a ports.SchemaStore backed by one YAML file.
type Store struct {
	path string
}

var _ ports.SchemaStore = (*Store)(nil)

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// LoadSchema reads and validates the document.
func (s *Store) LoadSchema(ctx context.Context) (*design.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, errors.NotFound("schema file " + s.path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open schema")
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load schema %s", s.path)
	}
	return doc, nil
}

// SaveSchema writes the document, replacing the file.
func (s *Store) SaveSchema(ctx context.Context, doc *design.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return errors.Wrap(err, "failed to encode schema")
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write schema %s", s.path)
	}
	return nil
}

// Decode parses a schema document. Samples follow header order.
func Decode(r io.Reader) (*design.Document, error) {
	var in document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if err == io.EOF {
			return nil, errors.InvalidInput("schema document is empty")
		}
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if len(in.Headers) == 0 {
		return nil, errors.InvalidInput("schema document lists no headers")
	}

	known := make(map[string]bool, len(in.Headers))
	for _, h := range in.Headers {
		known[h] = true
	}
	for _, c := range in.FeatureIDColumns {
		if !known[c] {
			return nil, errors.InvalidInput(fmt.Sprintf("feature id column %q is not a header", c))
		}
	}
	var samples []string
	for _, h := range in.Headers {
		if _, ok := in.SampleFactorMapping[h]; ok {
			samples = append(samples, h)
		}
	}
	if len(samples) != len(in.SampleFactorMapping) {
		for name := range in.SampleFactorMapping {
			if !known[name] {
				return nil, errors.InvalidInput(fmt.Sprintf("sample %q is not a header", name))
			}
		}
	}

	schema := design.NewSchema(samples...)
	for _, f := range in.Factors {
		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			values[i] = string(v)
		}
		if err := schema.AddFactor(f.Name, values...); err != nil {
			return nil, err
		}
	}
	for _, name := range samples {
		for factor, v := range in.SampleFactorMapping[name] {
			if v == "" {
				continue
			}
			if err := schema.SetFactor(name, factor, string(v)); err != nil {
				return nil, fmt.Errorf("sample %s: %w", name, err)
			}
		}
	}
	return &design.Document{
		Headers:          in.Headers,
		FeatureIDColumns: in.FeatureIDColumns,
		Schema:           schema,
	}, nil
}

// Encode writes doc with a comment above every section. Unassigned
// factors are written as null so they are easy to fill in.
func Encode(w io.Writer, doc *design.Document) error {
	if doc == nil || doc.Schema == nil {
		return errors.InvalidInput("nil schema document")
	}
	root := &yaml.Node{Kind: yaml.MappingNode}

	factors := &yaml.Node{Kind: yaml.SequenceNode}
	for _, f := range doc.Schema.Factors {
		var n yaml.Node
		if err := n.Encode(struct {
			Name   string   `yaml:"name"`
			Values []string `yaml:"values"`
		}{f.Name, f.Levels}); err != nil {
			return err
		}
		factors.Content = append(factors.Content, &n)
	}
	addSection(root, "factors", factorsComment, factors)
	addSection(root, "headers", headersComment, stringList(doc.Headers))
	addSection(root, "feature_id_columns", idsComment, stringList(doc.FeatureIDColumns))

	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, smp := range doc.Schema.Samples {
		attrs := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range doc.Schema.Factors {
			val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
			if v := smp.Assignments[f.Name]; v != "" {
				val = scalar(v)
			}
			attrs.Content = append(attrs.Content, scalar(f.Name), val)
		}
		mapping.Content = append(mapping.Content, scalar(smp.Name), attrs)
	}
	addSection(root, "sample_factor_mapping", mappingComment, mapping)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return err
	}
	return enc.Close()
}

func addSection(root *yaml.Node, key, comment string, value *yaml.Node) {
	k := scalar(key)
	lines := strings.Split(comment, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight("# "+l, " ")
	}
	k.HeadComment = strings.Join(lines, "\n")
	root.Content = append(root.Content, k, value)
}

// scalar forces a string tag so values like "yes" or "1" round-trip as
// text.
func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func stringList(values []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range values {
		n.Content = append(n.Content, scalar(v))
	}
	return n
}
