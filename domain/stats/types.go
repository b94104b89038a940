package stats

import (
	"fmt"
	"strings"
)

// Kind selects a statistic from the closed set the library implements.
type Kind string

const (
	KindFTest          Kind = "f_test"
	KindOneSampleTTest Kind = "one_sample_t_test"
	KindMeansRatio     Kind = "means_ratio"
	KindGLM            Kind = "glm"
)

// Kinds lists every supported statistic.
var Kinds = []Kind{KindFTest, KindOneSampleTTest, KindMeansRatio, KindGLM}

// ParseKind accepts a statistic name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown statistic %q (want one of %v)", s, Kinds)
}

// Family is the error distribution of a GLM fit.
type Family string

const (
	FamilyGaussian Family = "gaussian"
	FamilyBinomial Family = "binomial"
	FamilyPoisson  Family = "poisson"
)

// ParseFamily accepts a GLM family name, case-insensitively.
func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(strings.TrimSpace(s))); f {
	case FamilyGaussian, FamilyBinomial, FamilyPoisson:
		return f, nil
	case "":
		return FamilyGaussian, nil
	}
	return "", fmt.Errorf("unknown glm family %q", s)
}

// Mode selects how null iterations are produced.
type Mode string

const (
	ModePermutation Mode = "permutation"
	ModeBootstrap   Mode = "bootstrap"
)

// ParseMode accepts a resampling mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePermutation, ModeBootstrap:
		return m, nil
	case "":
		return ModePermutation, nil
	}
	return "", fmt.Errorf("unknown resampling mode %q", s)
}

// Source selects what bootstrap draws resample.
type Source string

const (
	SourceRaw       Source = "raw"
	SourceResiduals Source = "residuals"
)

// ParseSource accepts a resampling source name.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceRaw, SourceResiduals:
		return src, nil
	case "":
		return SourceRaw, nil
	}
	return "", fmt.Errorf("unknown resampling source %q", s)
}

// Retention selects how the pooled null sample is kept.
type Retention string

const (
	RetentionFull   Retention = "full"
	RetentionBinned Retention = "binned"
)

// ParseRetention accepts a null retention strategy name.
func ParseRetention(s string) (Retention, error) {
	switch r := Retention(strings.ToLower(strings.TrimSpace(s))); r {
	case RetentionFull, RetentionBinned:
		return r, nil
	case "":
		return RetentionFull, nil
	}
	return "", fmt.Errorf("unknown null retention %q", s)
}
