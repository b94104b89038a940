package design

// Document is a schema together with the layout of the input table it
// describes: every header, which columns hold feature ids, and (through the
// schema's samples) which hold sample values.
type Document struct {
	Headers          []string `json:"headers"`
	FeatureIDColumns []string `json:"feature_id_columns"`
	Schema           *Schema  `json:"schema"`
}

// FeatureIDColumn returns the first feature id column, or "".
func (d *Document) FeatureIDColumn() string {
	if len(d.FeatureIDColumns) == 0 {
		return ""
	}
	return d.FeatureIDColumns[0]
}

// NewDocument starts a document for an input table: every header that is
// not a feature id column becomes a sample, with no factors yet.
func NewDocument(headers, featureIDColumns []string) *Document {
	ids := make(map[string]bool, len(featureIDColumns))
	for _, c := range featureIDColumns {
		ids[c] = true
	}
	var samples []string
	for _, h := range headers {
		if !ids[h] {
			samples = append(samples, h)
		}
	}
	return &Document{
		Headers:          append([]string(nil), headers...),
		FeatureIDColumns: append([]string(nil), featureIDColumns...),
		Schema:           NewSchema(samples...),
	}
}
