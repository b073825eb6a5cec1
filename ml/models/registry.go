package models

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/svscheck/ml/modelconfig"
)

// Constructor builds a model from its network configuration. Weights are initialized from rng.
type Constructor func(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error)

// ErrUnknownTarget is returned (wrapped) when a configuration `_target_` is not registered.
var ErrUnknownTarget = errors.New("unknown model target")

// Registration describes a registered model implementation.
type Registration struct {
	Target      string
	Category    modelconfig.Category
	Constructor Constructor
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register a model implementation under the given `_target_` tag. It panics if target is
// already registered, since that means two implementations are competing for the same tag.
func Register(target string, category modelconfig.Category, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[target]; found {
		exceptions.Panicf("models.Register(%q): target already registered", target)
	}
	registry[target] = Registration{Target: target, Category: category, Constructor: constructor}
}

// Lookup returns the registration for target, or an error wrapping ErrUnknownTarget.
func Lookup(target string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	registration, found := registry[target]
	if !found {
		return Registration{}, errors.Wrapf(ErrUnknownTarget, "%q (registered targets: %v)", target, targetsLocked())
	}
	return registration, nil
}

// Targets returns the sorted list of registered targets.
func Targets() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return targetsLocked()
}

func targetsLocked() []string {
	targets := make([]string, 0, len(registry))
	for target := range registry {
		targets = append(targets, target)
	}
	slices.Sort(targets)
	return targets
}

// Instantiate builds the model described by net, with weights initialized from a generator seeded with seed.
//
// It returns the model and the category of its registered implementation. Errors, including
// panics raised by the constructor, are returned as regular errors.
func Instantiate(net *modelconfig.NetConfig, seed uint64) (model Model, category modelconfig.Category, err error) {
	if net == nil {
		return nil, modelconfig.CategoryUnknown, errors.New("models.Instantiate: nil network configuration")
	}
	registration, err := Lookup(net.Target)
	if err != nil {
		return nil, modelconfig.CategoryUnknown, err
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	var constructorErr error
	err = exceptions.TryCatch[error](func() {
		model, constructorErr = registration.Constructor(net, rng)
	})
	if err == nil {
		err = constructorErr
	}
	if err != nil {
		return nil, registration.Category, errors.WithMessagef(err, "failed to build %q", net.Target)
	}
	klog.V(2).Infof("built %q (%s, %s): %d parameters", net.Target, registration.Category,
		model.PredictionType(), model.NumParams())
	return model, registration.Category, nil
}
