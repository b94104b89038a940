package statistic

import (
	"fmt"
	"math"

	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	glmMaxIter   = 50
	glmTolerance = 1e-8
	glmMuEpsilon = 1e-10
)

// GLM is a likelihood-ratio statistic comparing a generalized linear model
// with block and condition terms against one with block terms only.
type GLM struct {
	family stats.Family
}

// NewGLM creates a GLM statistic for family.
func NewGLM(family stats.Family) (*GLM, error) {
	if family == "" {
		family = stats.FamilyGaussian
	}
	switch family {
	case stats.FamilyGaussian, stats.FamilyBinomial, stats.FamilyPoisson:
		return &GLM{family: family}, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFamily, family)
}

func (s *GLM) Kind() stats.Kind     { return stats.KindGLM }
func (s *GLM) Family() stats.Family { return s.family }
func (s *GLM) Name() string         { return "GLM (" + string(s.family) + ")" }

func (s *GLM) Description() string {
	return "Likelihood ratio of condition+block versus block-only generalized linear models"
}

func (s *GLM) Requirements() design.Requirements {
	return design.Requirements{MinPerCell: 1, MinLevels: 2, MinBlocks: 1}
}

// Compute fits both models for every feature.
func (s *GLM) Compute(m *matrix.Matrix, g *design.Grouping, labels design.Labeling) *stats.Vector {
	out := stats.NewVector(m.NumFeatures())
	samples := flatten(ReducedLayout(g))
	full := s.designMatrix(g, labels, samples, true)
	reduced := s.designMatrix(g, labels, samples, false)
	y := make([]float64, len(samples))

	for f := 0; f < out.Len(); f++ {
		row := m.Row(f)
		reason := stats.ReasonNone
		for i, smp := range samples {
			v := row[smp]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				reason = stats.ReasonNonFinite
				break
			}
			if !s.inDomain(v) {
				reason = stats.ReasonOutOfDomain
				break
			}
			y[i] = v
		}
		if reason != stats.ReasonNone {
			out.Invalidate(f, reason)
			continue
		}

		devFull, ok := s.fit(full, y)
		if !ok {
			out.Invalidate(f, stats.ReasonNonConvergent)
			continue
		}
		devRed, ok := s.fit(reduced, y)
		if !ok {
			out.Invalidate(f, stats.ReasonNonConvergent)
			continue
		}
		value, reason := s.ratio(devFull, devRed, y)
		if reason != stats.ReasonNone {
			out.Invalidate(f, reason)
			continue
		}
		out.Set(f, value, stats.ReasonNonConvergent)
	}
	return out
}

// Magnitude is the likelihood ratio; larger means a better condition fit.
func (s *GLM) Magnitude(value float64) float64 { return value }

// NominalPValue is the upper tail of chi-squared with levels-1 degrees of
// freedom.
func (s *GLM) NominalPValue(value float64, g *design.Grouping) float64 {
	k := float64(g.NumLevels() - 1)
	if k <= 0 || math.IsNaN(value) {
		return math.NaN()
	}
	if math.IsInf(value, 1) {
		return 0
	}
	return distuv.ChiSquared{K: k}.Survival(value)
}

func (s *GLM) ratio(devFull, devRed float64, y []float64) (float64, stats.Reason) {
	if s.family != stats.FamilyGaussian {
		lr := devRed - devFull
		if lr < 0 {
			lr = 0
		}
		return lr, stats.ReasonNone
	}
	scale := 0.0
	for _, v := range y {
		scale += v * v
	}
	fullZero := nearZero(devFull, scale)
	switch {
	case fullZero && nearZero(devRed, scale):
		return math.NaN(), stats.ReasonZeroVariance
	case fullZero:
		return math.Inf(1), stats.ReasonNone
	}
	lr := float64(len(y)) * math.Log(devRed/devFull)
	if lr < 0 {
		lr = 0
	}
	return lr, stats.ReasonNone
}

func (s *GLM) inDomain(v float64) bool {
	switch s.family {
	case stats.FamilyBinomial:
		return v >= 0 && v <= 1
	case stats.FamilyPoisson:
		return v >= 0
	}
	return true
}

// designMatrix lays out intercept, block dummies and, for the full model,
// condition dummies for the given samples. The first block and level are
// the reference.
func (s *GLM) designMatrix(g *design.Grouping, labels design.Labeling, samples []int, withCondition bool) *mat.Dense {
	nb := len(g.Blocks) - 1
	nl := 0
	if withCondition {
		nl = g.NumLevels() - 1
	}
	p := 1 + nb + nl
	x := mat.NewDense(len(samples), p, nil)
	for i, smp := range samples {
		x.Set(i, 0, 1)
		if b := g.BlockOf[smp]; b > 0 {
			x.Set(i, b, 1)
		}
		if lvl := labels[smp]; withCondition && lvl > 0 {
			x.Set(i, 1+nb+lvl-1, 1)
		}
	}
	return x
}

// fit runs iteratively reweighted least squares and returns the deviance.
func (s *GLM) fit(x *mat.Dense, y []float64) (float64, bool) {
	n, p := x.Dims()
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i, v := range y {
		mu[i] = s.startMu(v)
		eta[i] = s.link(mu[i])
	}

	w := make([]float64, n)
	z := make([]float64, n)
	xtwx := mat.NewSymDense(p, nil)
	xtwz := mat.NewVecDense(p, nil)
	var beta mat.VecDense
	var chol mat.Cholesky
	devOld := s.deviance(y, mu)

	for iter := 0; iter < glmMaxIter; iter++ {
		for i := range y {
			d := s.dEta(mu[i])
			z[i] = eta[i] + (y[i]-mu[i])*d
			w[i] = 1 / (s.variance(mu[i]) * d * d)
		}
		for a := 0; a < p; a++ {
			rhs := 0.0
			for i := 0; i < n; i++ {
				rhs += x.At(i, a) * w[i] * z[i]
			}
			xtwz.SetVec(a, rhs)
			for b := a; b < p; b++ {
				sum := 0.0
				for i := 0; i < n; i++ {
					sum += x.At(i, a) * w[i] * x.At(i, b)
				}
				xtwx.SetSym(a, b, sum)
			}
		}
		if ok := chol.Factorize(xtwx); !ok {
			return 0, false
		}
		if err := chol.SolveVecTo(&beta, xtwz); err != nil {
			return 0, false
		}
		for i := 0; i < n; i++ {
			e := 0.0
			for a := 0; a < p; a++ {
				e += x.At(i, a) * beta.AtVec(a)
			}
			eta[i] = e
			mu[i] = s.clampMu(s.linkInv(e))
		}
		dev := s.deviance(y, mu)
		if math.IsNaN(dev) || math.IsInf(dev, 0) {
			return 0, false
		}
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < glmTolerance {
			return dev, true
		}
		devOld = dev
	}
	return 0, false
}

func (s *GLM) startMu(y float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return (y + 0.5) / 2
	case stats.FamilyPoisson:
		return y + 0.1
	}
	return y
}

func (s *GLM) clampMu(mu float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return math.Min(math.Max(mu, glmMuEpsilon), 1-glmMuEpsilon)
	case stats.FamilyPoisson:
		return math.Max(mu, glmMuEpsilon)
	}
	return mu
}

func (s *GLM) link(mu float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return math.Log(mu / (1 - mu))
	case stats.FamilyPoisson:
		return math.Log(mu)
	}
	return mu
}

func (s *GLM) linkInv(eta float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return 1 / (1 + math.Exp(-eta))
	case stats.FamilyPoisson:
		return math.Exp(eta)
	}
	return eta
}

// dEta is the derivative of the link at mu.
func (s *GLM) dEta(mu float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return 1 / (mu * (1 - mu))
	case stats.FamilyPoisson:
		return 1 / mu
	}
	return 1
}

func (s *GLM) variance(mu float64) float64 {
	switch s.family {
	case stats.FamilyBinomial:
		return mu * (1 - mu)
	case stats.FamilyPoisson:
		return mu
	}
	return 1
}

func (s *GLM) deviance(y, mu []float64) float64 {
	dev := 0.0
	for i := range y {
		switch s.family {
		case stats.FamilyBinomial:
			dev += 2 * (xlogy(y[i], y[i]/mu[i]) + xlogy(1-y[i], (1-y[i])/(1-mu[i])))
		case stats.FamilyPoisson:
			dev += 2 * (xlogy(y[i], y[i]/mu[i]) - (y[i] - mu[i]))
		default:
			d := y[i] - mu[i]
			dev += d * d
		}
	}
	return dev
}

// xlogy is x*log(r) with 0*log(0) taken as 0.
func xlogy(x, r float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(r)
}
