package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// paramValidate reports field errors under their json keys.
var paramValidate *validator.Validate

func init() {
	paramValidate = validator.New()
	paramValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidateOptions selects which checks Validate applies on top of the
// shape and finiteness checks that always run.
type ValidateOptions struct {
	// ZeroGuards rejects zeros in the parameters the closed-form formula
	// divides by.
	ZeroGuards bool
	// EnforceRanges rejects values outside the documented ranges.
	EnforceRanges bool
}

// Validate turns twelve raw values in model column order into a
// ParameterVector. Zero guards run before range checks so a zero divisor is
// always reported as a division by zero.
func Validate(raw []float64, opts ValidateOptions) (ParameterVector, error) {
	if len(raw) != NumFeatures {
		return ParameterVector{}, NewValidationError(fmt.Sprintf("expected %d parameters, got %d", NumFeatures, len(raw)))
	}
	if i, ok := allFinite(raw); !ok {
		return ParameterVector{}, NewValidationError("non-finite value: " + fieldSpecs[i].Key)
	}

	var arr [NumFeatures]float64
	copy(arr[:], raw)
	p := FromArray(arr)

	if opts.ZeroGuards {
		if err := p.CheckZeroGuards(); err != nil {
			return ParameterVector{}, err
		}
	}
	if opts.EnforceRanges {
		if err := p.CheckRanges(); err != nil {
			return ParameterVector{}, err
		}
	}
	return p, nil
}

// CheckZeroGuards rejects the four formula divisors when they are zero.
func (p ParameterVector) CheckZeroGuards() error {
	guards := [...]struct {
		key   string
		value float64
	}{
		{FeatureShearSpanRatio, p.ShearSpanRatio},
		{FeatureFlangeLengthMM, p.FlangeLengthMM},
		{FeatureFlangeBarYieldMPa, p.FlangeBarYieldMPa},
		{FeatureWebReinfRatioPct, p.WebReinfRatioPct},
	}
	for _, g := range guards {
		if g.value == 0 {
			return NewValidationError(fmt.Sprintf("division by zero: %s is 0", g.key))
		}
	}
	return nil
}

// CheckRanges reports the first parameter outside its valid range.
func (p ParameterVector) CheckRanges() error {
	err := paramValidate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return NewValidationError("out of domain: " + verrs[0].Field())
	}
	return NewValidationError(err.Error())
}
