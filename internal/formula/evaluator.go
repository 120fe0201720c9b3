// Package formula evaluates the closed-form peak shear strength expression
// obtained by gene expression programming.
package formula

import (
	"fmt"
	"math"

	"squatwall/internal/domain"
)

// Constants are the six fitted coefficients of the expression.
type Constants struct {
	G1C3 float64 `json:"g1c3"`
	G1C4 float64 `json:"g1c4"`
	G2C0 float64 `json:"g2c0"`
	G2C2 float64 `json:"g2c2"`
	G4C4 float64 `json:"g4c4"`
	G4C7 float64 `json:"g4c7"`
}

var defaultConstants = Constants{
	G1C3: 6.47694323705234,
	G1C4: -24.9941342003774,
	G2C0: 127.548920335475,
	G2C2: 8.60619685094863,
	G4C4: 577.183457643781,
	G4C7: 7.14738074447545,
}

// DefaultConstants returns a copy of the published coefficients.
func DefaultConstants() Constants { return defaultConstants }

// Terms are the four genes of the expression, summed for the prediction.
type Terms struct {
	T1 float64 `json:"t1"`
	T2 float64 `json:"t2"`
	T3 float64 `json:"t3"`
	T4 float64 `json:"t4"`
}

func (t Terms) Sum() float64 {
	return t.T1 + t.T2 + t.T3 + t.T4
}

// Evaluate returns the closed-form prediction at full precision. It has no
// side effects and does not validate p beyond the arithmetic itself.
func Evaluate(p domain.ParameterVector, c Constants) (float64, error) {
	terms, err := EvaluateTerms(p, c)
	if err != nil {
		return 0, err
	}
	sum := terms.Sum()
	if !finite(sum) {
		return 0, invalid("sum is not finite")
	}
	return sum, nil
}

// EvaluateTerms computes each gene separately. Products that feed an
// addition are wrapped in float64() so the compiler never fuses them into
// an FMA and results stay identical across architectures.
func EvaluateTerms(p domain.ParameterVector, c Constants) (Terms, error) {
	var (
		t   Terms
		err error
	)
	if t.T1, err = term1(p, c); err != nil {
		return Terms{}, err
	}
	if t.T2, err = term2(p, c); err != nil {
		return Terms{}, err
	}
	if t.T3, err = term3(p); err != nil {
		return Terms{}, err
	}
	if t.T4, err = term4(p, c); err != nil {
		return Terms{}, err
	}
	return t, nil
}

// t1 = (flangeReinf + G1C3/(webReinf + (horizReinf - loading - axial/flangeBarYield)^2)) * (G1C4/shearSpan)
func term1(p domain.ParameterVector, c Constants) (float64, error) {
	ratio, err := div(p.AxialForceKN, p.FlangeBarYieldMPa, 1)
	if err != nil {
		return 0, err
	}
	q := (p.HorizReinfRatioPct - p.LoadingType) - ratio
	den := p.WebReinfRatioPct + float64(q*q)
	inner, err := div(c.G1C3, den, 1)
	if err != nil {
		return 0, err
	}
	scale, err := div(c.G1C4, p.ShearSpanRatio, 1)
	if err != nil {
		return 0, err
	}
	return checked((p.FlangeReinfRatioKN+inner)*scale, 1)
}

// t2 = (horizBarYield + G2C0) - sqrt((flangeLength*G2C2*(webBarYield*loading) + axial*shearSpan*webBarYield) / flangeLength)^2
func term2(p domain.ParameterVector, c Constants) (float64, error) {
	a := float64(float64(p.FlangeLengthMM*c.G2C2) * float64(p.WebBarYieldMPa*p.LoadingType))
	b := float64(float64(p.AxialForceKN*p.ShearSpanRatio) * p.WebBarYieldMPa)
	rad, err := div(a+b, p.FlangeLengthMM, 2)
	if err != nil {
		return 0, err
	}
	s, err := sqrt(rad, 2)
	if err != nil {
		return 0, err
	}
	return checked((p.HorizBarYieldMPa+c.G2C0)-float64(s*s), 2)
}

// t3 = (sqrt(sqrt(flangeReinf + (horizReinf*flangeReinf*shearSpan*sqrt(webReinf))^2)) / shearSpan - thicknessRatio) * flangeLength
func term3(p domain.ParameterVector) (float64, error) {
	rw, err := sqrt(p.WebReinfRatioPct, 3)
	if err != nil {
		return 0, err
	}
	m := float64(float64(float64(p.HorizReinfRatioPct*p.FlangeReinfRatioKN)*p.ShearSpanRatio) * rw)
	inner, err := sqrt(p.FlangeReinfRatioKN+float64(m*m), 3)
	if err != nil {
		return 0, err
	}
	outer, err := sqrt(inner, 3)
	if err != nil {
		return 0, err
	}
	q, err := div(outer, p.ShearSpanRatio, 3)
	if err != nil {
		return 0, err
	}
	return checked((q-p.FlangeWebThicknessRatio)*p.FlangeLengthMM, 3)
}

// t4 = loading * (concrete/(loading - ((G4C4*horizBarYield)/(flangeBarYield*flangeLength))^4 * G4C7) + horizBarYield)
func term4(p domain.ParameterVector, c Constants) (float64, error) {
	x, err := div(float64(c.G4C4*p.HorizBarYieldMPa), float64(p.FlangeBarYieldMPa*p.FlangeLengthMM), 4)
	if err != nil {
		return 0, err
	}
	x2 := x * x
	x4 := x2 * x2
	den := p.LoadingType - float64(x4*c.G4C7)
	inner, err := div(p.ConcreteStrengthMPa, den, 4)
	if err != nil {
		return 0, err
	}
	return checked(p.LoadingType*(inner+p.HorizBarYieldMPa), 4)
}

func div(num, den float64, term int) (float64, error) {
	if den == 0 {
		return 0, invalid(fmt.Sprintf("zero denominator in term %d", term))
	}
	return checked(num/den, term)
}

func sqrt(x float64, term int) (float64, error) {
	if x < 0 {
		return 0, invalid(fmt.Sprintf("negative radicand in term %d", term))
	}
	return checked(math.Sqrt(x), term)
}

func checked(v float64, term int) (float64, error) {
	if !finite(v) {
		return 0, invalid(fmt.Sprintf("non-finite value in term %d", term))
	}
	return v, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func invalid(detail string) error {
	return domain.NewComputationError("invalid intermediate value: " + detail)
}
