package ports

import (
	"context"

	"gopade/domain/design"
)

// SchemaStore loads and saves the schema document describing an input table.
type SchemaStore interface {
	LoadSchema(ctx context.Context) (*design.Document, error)
	SaveSchema(ctx context.Context, doc *design.Document) error
}
