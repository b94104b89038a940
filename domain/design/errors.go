package design

import (
	"fmt"
	"strings"

	"gopade/domain/core"
)

// SchemaIncompleteError reports a sample lacking a level for a factor the
// run needs.
type SchemaIncompleteError struct {
	Sample string
	Factor string
}

func (e *SchemaIncompleteError) Error() string {
	return fmt.Sprintf("schema incomplete: sample %q has no level assigned for factor %q", e.Sample, e.Factor)
}

func (e *SchemaIncompleteError) Unwrap() error { return core.ErrSchemaIncomplete }

// DesignDegenerateError reports that no block or cell satisfies the
// statistic's structural minimum.
type DesignDegenerateError struct {
	Requirement string
	Details     []string
}

func (e *DesignDegenerateError) Error() string {
	msg := "design degenerate: " + e.Requirement
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func (e *DesignDegenerateError) Unwrap() error { return core.ErrDesignDegenerate }

// UnsupportedLayoutError reports a statistic that cannot be used with the
// chosen condition, e.g. means_ratio with three levels.
type UnsupportedLayoutError struct {
	Statistic string
	Reason    string
}

func (e *UnsupportedLayoutError) Error() string {
	return fmt.Sprintf("%s cannot be used with this layout: %s", e.Statistic, e.Reason)
}

func (e *UnsupportedLayoutError) Unwrap() error { return core.ErrUnsupportedLayout }

// WarningKind classifies non-fatal diagnostics surfaced with the results.
type WarningKind string

const (
	WarningBlockDropped          WarningKind = "block_dropped"
	WarningUnusedLevel           WarningKind = "unused_level"
	WarningResamplingExhaustion  WarningKind = "resampling_exhaustion"
	WarningApproximateResampling WarningKind = "approximate_resampling"
)

// Warning is a recorded, non-fatal diagnostic.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}
