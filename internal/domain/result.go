package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ModelSource tags a prediction with the path that produced it.
type ModelSource string

const (
	ModelClosedForm ModelSource = "closed-form"
	ModelEnsemble   ModelSource = "ensemble"
)

// GenericFailureMessage is what callers see for data, training and model
// failures; the detail goes to the logs.
const GenericFailureMessage = "prediction failed"

func (m ModelSource) displayName() string {
	switch m {
	case ModelClosedForm:
		return "Gene Expression Programming"
	case ModelEnsemble:
		return "XGBoost"
	default:
		return string(m)
	}
}

// Failure is the error half of a PredictionResult.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// PredictionResult carries either a value or a failure, never both.
type PredictionResult struct {
	model   ModelSource
	value   float64
	failure *Failure
}

func Success(model ModelSource, value float64) PredictionResult {
	return PredictionResult{model: model, value: value}
}

func Failed(model ModelSource, kind ErrorKind, message string) PredictionResult {
	return PredictionResult{model: model, failure: &Failure{Kind: kind, Message: message}}
}

// FailedFrom converts err into a failure, hiding the message for kinds that
// are not Public.
func FailedFrom(model ModelSource, err error) PredictionResult {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindPrediction
	}
	if kind.Public() {
		return Failed(model, kind, MessageOf(err))
	}
	return Failed(model, kind, GenericFailureMessage)
}

func (r PredictionResult) Model() ModelSource { return r.model }

func (r PredictionResult) OK() bool { return r.failure == nil }

// Value returns the full-precision prediction.
func (r PredictionResult) Value() (float64, bool) {
	if r.failure != nil {
		return 0, false
	}
	return r.value, true
}

func (r PredictionResult) Failure() (Failure, bool) {
	if r.failure == nil {
		return Failure{}, false
	}
	return *r.failure, true
}

// Text renders the result the way it is shown to users.
func (r PredictionResult) Text() string {
	if r.failure != nil {
		return "Error: " + r.failure.Message
	}
	return fmt.Sprintf("Predicted Peak Shear Strength using %s: %s", r.model.displayName(), FormatValue(r.value))
}

// FormatValue rounds v to two decimals for display.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

type resultJSON struct {
	Model     ModelSource `json:"model"`
	Value     *float64    `json:"value,omitempty"`
	Formatted string      `json:"formatted,omitempty"`
	Text      string      `json:"text"`
	ErrorKind ErrorKind   `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func (r PredictionResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{Model: r.model, Text: r.Text()}
	if r.failure != nil {
		out.ErrorKind = r.failure.Kind
		out.Error = r.failure.Message
	} else {
		v := r.value
		out.Value = &v
		out.Formatted = FormatValue(v)
	}
	return json.Marshal(out)
}
