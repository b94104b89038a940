package ports

import (
	"context"

	"gopade/domain/matrix"
)

// ColumnLayout names the columns of an input table that hold feature ids
// and sample values.
type ColumnLayout struct {
	FeatureIDColumn string
	SampleColumns   []string
}

// MatrixReader loads the feature-by-sample input table.
type MatrixReader interface {
	// Headers returns the column names of the input table.
	Headers(ctx context.Context) ([]string, error)
	// ReadMatrix returns the matrix with columns in layout.SampleColumns order.
	ReadMatrix(ctx context.Context, layout ColumnLayout) (*matrix.Matrix, error)
}
