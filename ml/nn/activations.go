package nn

import (
	"math"

	. "github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/types/tensors"
)

// ActivationType is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: ActivationLeakyRelu -> "leaky_relu"), and can be
// converted from string with ActivationFromName.
type ActivationType int

const (
	ActivationNone ActivationType = iota
	ActivationRelu
	ActivationLeakyRelu
	ActivationTanh
	ActivationSigmoid
)

var activationNames = map[ActivationType]string{
	ActivationNone:      "none",
	ActivationRelu:      "relu",
	ActivationLeakyRelu: "leaky_relu",
	ActivationTanh:      "tanh",
	ActivationSigmoid:   "sigmoid",
}

// LeakyReluAlpha is the slope of LeakyRelu for negative values.
const LeakyReluAlpha = 0.2

// String implements fmt.Stringer.
func (a ActivationType) String() string {
	if name, found := activationNames[a]; found {
		return name
	}
	return "invalid"
}

// ActivationFromName converts the name of an activation to its type.
// An empty string is converted to defaultType.
//
// It panics for unknown names.
func ActivationFromName(name string, defaultType ActivationType) ActivationType {
	if name == "" {
		return defaultType
	}
	switch name {
	case "ReLU":
		return ActivationRelu
	case "LeakyReLU":
		return ActivationLeakyRelu
	case "Tanh":
		return ActivationTanh
	case "Sigmoid":
		return ActivationSigmoid
	}
	for activation, activationName := range activationNames {
		if activationName == name {
			return activation
		}
	}
	Panicf("invalid activation name %q: options are none, relu, leaky_relu, tanh or sigmoid", name)
	return ActivationNone
}

// Apply the activation to x, returning a new tensor.
// The ActivationNone activation returns x itself.
func (a ActivationType) Apply(x *tensors.Tensor) *tensors.Tensor {
	var fn func(v float32) float32
	switch a {
	case ActivationNone:
		return x
	case ActivationRelu:
		fn = func(v float32) float32 { return max(v, 0) }
	case ActivationLeakyRelu:
		fn = func(v float32) float32 {
			if v < 0 {
				return LeakyReluAlpha * v
			}
			return v
		}
	case ActivationTanh:
		fn = func(v float32) float32 { return float32(math.Tanh(float64(v))) }
	case ActivationSigmoid:
		fn = func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) }
	default:
		Panicf("Apply got invalid activation value %d", int(a))
	}
	return Map(x, fn)
}
