// Package optimizer provides a heuristic steepest-descent minimiser for scalar
// objectives of a small parameter vector.
package optimizer

import (
	"fmt"
	"math"
	"strings"
)

// Objective is the function being minimised.
type Objective func(x []float64) float64

// GradientMode selects how the gradient is approximated.
type GradientMode int

const (
	// Forward uses (f(x+h) - f(x)) / h.
	Forward GradientMode = iota
	// Central uses (f(x+h) - f(x-h)) / 2h.
	Central
	// Quadratic fits a parabola through x-h, x, x+h and differentiates it.
	Quadratic
)

func (m GradientMode) String() string {
	switch m {
	case Forward:
		return "forward"
	case Central:
		return "central"
	case Quadratic:
		return "quadratic"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration value into a GradientMode.
func ParseMode(s string) (GradientMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward":
		return Forward, nil
	case "central":
		return Central, nil
	case "quadratic":
		return Quadratic, nil
	default:
		return Forward, fmt.Errorf("unknown gradient mode %q", s)
	}
}

// StopReason explains why Optimize returned.
type StopReason int

const (
	// StopTolerance means an iteration improved the objective by less than Tolerance.
	StopTolerance StopReason = iota
	// StopStepTooSmall means no descending step longer than Tolerance/2 was found.
	StopStepTooSmall
	// StopStationary means the gradient vanished or was not finite.
	StopStationary
	// StopMaxIterations means the iteration budget ran out.
	StopMaxIterations
	// StopDegenerate means a parabola fit in the gradient or line search was flat or NaN.
	StopDegenerate
)

func (r StopReason) String() string {
	switch r {
	case StopTolerance:
		return "tolerance"
	case StopStepTooSmall:
		return "step_too_small"
	case StopStationary:
		return "stationary"
	case StopMaxIterations:
		return "max_iterations"
	case StopDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

const (
	initialStep   = 1.0
	maxRefineStep = 0.5
	// denominators below this are treated as zero
	degenerateEps = 1e-12

	defaultForwardStep   = 1e-6
	defaultQuadraticStep = 1e-3
)

// Result is the outcome of one Optimize call.
type Result struct {
	X          []float64
	Value      float64
	Iterations int
	// Converged is false only when the line search or gradient fit degenerated.
	Converged bool
	Stop      StopReason
}

// Optimizer minimises objectives by steepest descent with a parabolic line search.
type Optimizer struct {
	Tolerance     float64
	MaxIterations int
	Mode          GradientMode
	// DiffStep is the finite-difference step; zero selects a mode-specific default.
	DiffStep float64
}

// New returns an Optimizer with the given settings.
func New(tolerance float64, maxIterations int, mode GradientMode) *Optimizer {
	return &Optimizer{Tolerance: tolerance, MaxIterations: maxIterations, Mode: mode}
}

// Optimize minimises f starting from start. Reaching MaxIterations counts as converged.
func (o *Optimizer) Optimize(start []float64, f Objective) Result {
	x := append([]float64(nil), start...)
	fx := f(x)
	res := Result{Converged: true}

	for res.Iterations < o.MaxIterations {
		res.Iterations++

		grad, ok := o.gradient(x, fx, f)
		if !ok {
			return o.finish(res, x, fx, StopDegenerate)
		}
		norm := vectorNorm(grad)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return o.finish(res, x, fx, StopStationary)
		}
		dir := make([]float64, len(grad))
		for i, g := range grad {
			dir[i] = -g / norm
		}

		step := initialStep
		trial := offset(x, dir, step)
		ft := f(trial)
		for !(ft < fx) {
			step /= 2
			if step < o.Tolerance/2 {
				return o.finish(res, x, fx, StopStepTooSmall)
			}
			trial = offset(x, dir, step)
			ft = f(trial)
		}

		next, fnext, ok := o.refine(x, dir, step, fx, ft, f)
		if !ok {
			return o.finish(res, trial, ft, StopDegenerate)
		}

		delta := math.Abs(fx - fnext)
		x, fx = next, fnext
		if delta < o.Tolerance {
			return o.finish(res, x, fx, StopTolerance)
		}
	}

	return o.finish(res, x, fx, StopMaxIterations)
}

func (o *Optimizer) finish(res Result, x []float64, fx float64, stop StopReason) Result {
	res.X = append([]float64(nil), x...)
	res.Value = fx
	res.Stop = stop
	res.Converged = stop != StopDegenerate
	return res
}

// refine fits a parabola through the points 0, step, 2*step along dir and moves to its
// vertex when that beats the coarse step. It reports false when the fit is degenerate.
func (o *Optimizer) refine(x, dir []float64, step, f0, f1 float64, f Objective) ([]float64, float64, bool) {
	coarse := offset(x, dir, step)
	f2 := f(offset(x, dir, 2*step))

	d01 := (f1 - f0) / step
	d12 := (f2 - f1) / step
	curvature := (d12 - d01) / (2 * step)
	if math.Abs(curvature) < degenerateEps || math.IsNaN(curvature) {
		return nil, 0, false
	}
	if curvature < 0 {
		return coarse, f1, true
	}

	// vertex of the interpolating parabola
	s := step/2 - d01/(2*curvature)
	if s <= 0 {
		return coarse, f1, true
	}
	if s > maxRefineStep {
		s = maxRefineStep
	}

	refined := offset(x, dir, s)
	if fr := f(refined); fr < f1 {
		return refined, fr, true
	}
	return coarse, f1, true
}

func (o *Optimizer) gradient(x []float64, fx float64, f Objective) ([]float64, bool) {
	h := o.DiffStep
	if h <= 0 {
		h = defaultForwardStep
		if o.Mode == Quadratic {
			h = defaultQuadraticStep
		}
	}

	grad := make([]float64, len(x))
	probe := append([]float64(nil), x...)
	at := func(i int, delta float64) float64 {
		probe[i] = x[i] + delta
		v := f(probe)
		probe[i] = x[i]
		return v
	}

	for i := range x {
		switch o.Mode {
		case Central:
			grad[i] = (at(i, h) - at(i, -h)) / (2 * h)
		case Quadratic:
			d, ok := parabolaSlope(-h, 0, h, at(i, -h), fx, at(i, h))
			if !ok {
				return nil, false
			}
			grad[i] = d
		default:
			grad[i] = (at(i, h) - fx) / h
		}
	}
	return grad, true
}

// parabolaSlope fits y = a*t^2 + b*t + c through three points with Cramer's rule and
// returns the derivative at t = 0, which is b.
func parabolaSlope(t0, t1, t2, y0, y1, y2 float64) (float64, bool) {
	det := det3(
		t0*t0, t0, 1,
		t1*t1, t1, 1,
		t2*t2, t2, 1,
	)
	if math.Abs(det) < degenerateEps*degenerateEps {
		return 0, false
	}
	detB := det3(
		t0*t0, y0, 1,
		t1*t1, y1, 1,
		t2*t2, y2, 1,
	)
	return detB / det, true
}

func det3(a, b, c, d, e, f, g, h, i float64) float64 {
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

func offset(x, dir []float64, step float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + step*dir[i]
	}
	return out
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
