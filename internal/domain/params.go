package domain

import "math"

// NumFeatures is the number of wall parameters every prediction consumes.
const NumFeatures = 12

// Feature keys in model column order.
const (
	FeatureLoadingType             = "loading_type"
	FeatureShearSpanRatio          = "shear_span_ratio"
	FeatureFlangeWebThicknessRatio = "flange_web_thickness_ratio"
	FeatureFlangeLengthMM          = "flange_length_mm"
	FeatureConcreteStrengthMPa     = "concrete_strength_mpa"
	FeatureWebBarYieldMPa          = "web_bar_yield_mpa"
	FeatureHorizBarYieldMPa        = "horiz_bar_yield_mpa"
	FeatureFlangeBarYieldMPa       = "flange_bar_yield_mpa"
	FeatureWebReinfRatioPct        = "web_reinf_ratio_pct"
	FeatureHorizReinfRatioPct      = "horiz_reinf_ratio_pct"
	FeatureFlangeReinfRatioKN      = "flange_reinf_ratio_kn"
	FeatureAxialForceKN            = "axial_force_kn"
)

// FieldSpec describes one input parameter: its key, display label, inclusive
// valid range and the default value offered to users.
type FieldSpec struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

var fieldSpecs = [NumFeatures]FieldSpec{
	{FeatureLoadingType, "Loading type (categorical)", 0, 2, 0},
	{FeatureShearSpanRatio, "Shear span ratio", 0.25, 2.0, 0.5},
	{FeatureFlangeWebThicknessRatio, "Ratio of flange thickness to web thickness", 0.80, 1.874, 1},
	{FeatureFlangeLengthMM, "Flange length (mm)", 145, 3045, 609.6},
	{FeatureConcreteStrengthMPa, "Concrete compressive strength (MPa)", 13.8, 110.70, 29},
	{FeatureWebBarYieldMPa, "Web longitudinal bar yield strength (MPa)", 0, 638, 543.3},
	{FeatureHorizBarYieldMPa, "Horizontal steel bar yield strength (MPa)", 0, 610, 495.7},
	{FeatureFlangeBarYieldMPa, "Flange longitudinal bar yield strength (MPa)", 235, 638, 525.4},
	{FeatureWebReinfRatioPct, "Reinforcement ratio of the web longitudinal bars (%)", 0, 2.54, 0.5},
	{FeatureHorizReinfRatioPct, "Reinforcement ratio of horizontal bars (%)", 0, 1.69, 0.5},
	{FeatureFlangeReinfRatioKN, "Reinforcement ratio of flange longitudinal bars (kN)", 0.35, 6.4, 1.8},
	{FeatureAxialForceKN, "Axial compressive force (kN)", 0, 2364, 0},
}

// Fields returns the parameter specs in model column order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, NumFeatures)
	copy(out, fieldSpecs[:])
	return out
}

// FeatureNames returns the feature keys in model column order.
func FeatureNames() []string {
	out := make([]string, NumFeatures)
	for i := range fieldSpecs {
		out[i] = fieldSpecs[i].Key
	}
	return out
}

// ParameterVector holds the twelve wall parameters. The validate tags mirror
// the ranges in Fields.
type ParameterVector struct {
	LoadingType             float64 `json:"loading_type" validate:"gte=0,lte=2"`
	ShearSpanRatio          float64 `json:"shear_span_ratio" validate:"gte=0.25,lte=2"`
	FlangeWebThicknessRatio float64 `json:"flange_web_thickness_ratio" validate:"gte=0.8,lte=1.874"`
	FlangeLengthMM          float64 `json:"flange_length_mm" validate:"gte=145,lte=3045"`
	ConcreteStrengthMPa     float64 `json:"concrete_strength_mpa" validate:"gte=13.8,lte=110.7"`
	WebBarYieldMPa          float64 `json:"web_bar_yield_mpa" validate:"gte=0,lte=638"`
	HorizBarYieldMPa        float64 `json:"horiz_bar_yield_mpa" validate:"gte=0,lte=610"`
	FlangeBarYieldMPa       float64 `json:"flange_bar_yield_mpa" validate:"gte=235,lte=638"`
	WebReinfRatioPct        float64 `json:"web_reinf_ratio_pct" validate:"gte=0,lte=2.54"`
	HorizReinfRatioPct      float64 `json:"horiz_reinf_ratio_pct" validate:"gte=0,lte=1.69"`
	FlangeReinfRatioKN      float64 `json:"flange_reinf_ratio_kn" validate:"gte=0.35,lte=6.4"`
	AxialForceKN            float64 `json:"axial_force_kn" validate:"gte=0,lte=2364"`
}

// DefaultParameters returns the default input vector.
func DefaultParameters() ParameterVector {
	var raw [NumFeatures]float64
	for i := range fieldSpecs {
		raw[i] = fieldSpecs[i].Default
	}
	return FromArray(raw)
}

// FromArray maps values in model column order onto a ParameterVector
// without any checks.
func FromArray(v [NumFeatures]float64) ParameterVector {
	return ParameterVector{
		LoadingType:             v[0],
		ShearSpanRatio:          v[1],
		FlangeWebThicknessRatio: v[2],
		FlangeLengthMM:          v[3],
		ConcreteStrengthMPa:     v[4],
		WebBarYieldMPa:          v[5],
		HorizBarYieldMPa:        v[6],
		FlangeBarYieldMPa:       v[7],
		WebReinfRatioPct:        v[8],
		HorizReinfRatioPct:      v[9],
		FlangeReinfRatioKN:      v[10],
		AxialForceKN:            v[11],
	}
}

// Array returns the values in model column order.
func (p ParameterVector) Array() [NumFeatures]float64 {
	return [NumFeatures]float64{
		p.LoadingType,
		p.ShearSpanRatio,
		p.FlangeWebThicknessRatio,
		p.FlangeLengthMM,
		p.ConcreteStrengthMPa,
		p.WebBarYieldMPa,
		p.HorizBarYieldMPa,
		p.FlangeBarYieldMPa,
		p.WebReinfRatioPct,
		p.HorizReinfRatioPct,
		p.FlangeReinfRatioKN,
		p.AxialForceKN,
	}
}

// Slice returns the values in model column order as a fresh slice.
func (p ParameterVector) Slice() []float64 {
	arr := p.Array()
	return arr[:]
}

// Value looks a parameter up by feature key.
func (p ParameterVector) Value(key string) (float64, bool) {
	arr := p.Array()
	for i := range fieldSpecs {
		if fieldSpecs[i].Key == key {
			return arr[i], true
		}
	}
	return 0, false
}

func allFinite(values []float64) (int, bool) {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i, false
		}
	}
	return -1, true
}
