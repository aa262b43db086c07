// Package marginal implements the bulk (non-extreme) marginal distribution
// families. Dispatch is by enumerated family tag through a registry; each
// family exposes quantile and CDF lookups plus a fit path so callers can
// either rehydrate externally fitted parameters or fit from a raw sample.
package marginal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftline/compex/internal/empirical"
)

// Family identifies a supported bulk marginal distribution.
type Family string

const (
	Exponential      Family = "exponential"
	Gamma            Family = "gamma"
	Gaussian         Family = "gaussian"
	InverseGaussian  Family = "inversegaussian"
	Logistic         Family = "logistic"
	LogNormal        Family = "lognormal"
	Tweedie          Family = "tweedie"
	Weibull          Family = "weibull"
	BirnbaumSaunders Family = "birnbaumsaunders"
)

// Families lists every supported family in stable order.
func Families() []Family {
	out := make([]Family, 0, len(fitters))
	for f := range fitters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Distribution is a fitted bulk marginal model. Quantile expects p in (0,1);
// CDF accepts any real x.
type Distribution interface {
	Family() Family
	Params() []float64
	Quantile(p float64) float64
	CDF(x float64) float64
}

// UnsupportedFamilyError reports a family name outside the recognized set.
type UnsupportedFamilyError struct {
	Name string
}

func (e *UnsupportedFamilyError) Error() string {
	return fmt.Sprintf("unsupported marginal family %q", e.Name)
}

type (
	fitFunc   func(xs []float64) (Distribution, error)
	buildFunc func(params []float64) (Distribution, error)
)

var (
	fitters  = map[Family]fitFunc{}
	builders = map[Family]buildFunc{}
)

func register(f Family, fit fitFunc, build buildFunc) {
	fitters[f] = fit
	builders[f] = build
}

// Parse resolves a family name case-insensitively, accepting the common
// aliases ("normal", "invgauss", "bisa").
func Parse(name string) (Family, error) {
	key := strings.ToLower(name)
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "normal", "norm":
		key = string(Gaussian)
	case "invgauss", "inversegauss", "wald":
		key = string(InverseGaussian)
	case "bisa":
		key = string(BirnbaumSaunders)
	case "logn":
		key = string(LogNormal)
	case "exp":
		key = string(Exponential)
	}
	f := Family(key)
	if _, ok := fitters[f]; !ok {
		return "", &UnsupportedFamilyError{Name: name}
	}
	return f, nil
}

// Fit estimates parameters for the given family from a raw sample. Missing
// values are dropped first; fewer than two usable observations fail with
// empirical.InsufficientDataError.
func Fit(f Family, xs []float64) (Distribution, error) {
	fit, ok := fitters[f]
	if !ok {
		return nil, &UnsupportedFamilyError{Name: string(f)}
	}
	clean := empirical.Clean(xs)
	if len(clean) < empirical.MinObservations {
		return nil, &empirical.InsufficientDataError{
			Op: fmt.Sprintf("fit %s marginal", f), Need: empirical.MinObservations, Got: len(clean),
		}
	}
	d, err := fit(clean)
	if err != nil {
		return nil, fmt.Errorf("fit %s marginal: %w", f, err)
	}
	return d, nil
}

// New rehydrates a distribution from externally fitted parameters.
func New(f Family, params []float64) (Distribution, error) {
	build, ok := builders[f]
	if !ok {
		return nil, &UnsupportedFamilyError{Name: string(f)}
	}
	d, err := build(params)
	if err != nil {
		return nil, fmt.Errorf("build %s marginal: %w", f, err)
	}
	return d, nil
}

func requireParams(f Family, params []float64, n int) error {
	if len(params) != n {
		return fmt.Errorf("%s takes %d parameters, got %d", f, n, len(params))
	}
	return nil
}

func requirePositive(xs []float64, f Family) error {
	for _, v := range xs {
		if v <= 0 {
			return fmt.Errorf("%s requires strictly positive observations, found %v", f, v)
		}
	}
	return nil
}
