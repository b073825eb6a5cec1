/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package shapecheck verifies that a model built from a configuration produces outputs whose
// shapes follow the contract of its category, by running it on a synthetic batch.
//
// Three contracts are checked, one per category:
//
//   - Standard (CheckStandard): (batch, time, in_dim) inputs map to (batch, time, out_dim) outputs.
//     Probabilistic models return (log_pi, log_sigma, mu) from the forward pass, with mu and
//     log_sigma shaped (batch, time, num_gaussians, out_dim), and (mu, sigma) shaped
//     (batch, time, out_dim) from the inference pass.
//   - Residual-F0 (CheckResidualF0): the forward pass returns (y, lf0_residual), where y follows the
//     standard contract and lf0_residual is shaped (batch, time, 1), or (batch, time, num_gaussians)
//     for probabilistic models.
//   - Post-filter (CheckPostFilter): outputs have the exact shape of the inputs, whose width is the sum
//     of the stream sizes, and the companion discriminator (netD) can be built.
//
// Failures are reported as *modelconfig.ConfigError (before anything is built), *ConstructionError
// or *ContractViolation.
//
// Example:
//
//	checker := shapecheck.New().BatchSize(4).TimeSteps(100)
//	report, err := checker.Check(cfg, modelconfig.CategoryUnknown)
package shapecheck

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/models"
	"github.com/gomlx/svscheck/types/shapes"
)

// Default synthetic batch dimensions.
const (
	DefaultBatchSize = 4
	DefaultTimeSteps = 100
)

// Checker runs the shape contract checks. Create it with New and configure it with its
// builder methods. It holds no state across checks, and can be used concurrently.
type Checker struct {
	batchSize, timeSteps int
	seed                 uint64
	seedSet              bool
	variableLengths      bool
	dummyLF0             bool
}

// New returns a Checker with the default batch size and number of time steps, and the seed
// set to batchSize*timeSteps.
func New() *Checker {
	return &Checker{batchSize: DefaultBatchSize, timeSteps: DefaultTimeSteps}
}

// BatchSize sets the number of samples of the synthetic batch. Default is 4.
func (c *Checker) BatchSize(batchSize int) *Checker {
	if batchSize <= 0 {
		exceptions.Panicf("Checker.BatchSize(%d): must be > 0", batchSize)
	}
	c.batchSize = batchSize
	return c
}

// TimeSteps sets the number of frames of the synthetic batch. Default is 100.
func (c *Checker) TimeSteps(timeSteps int) *Checker {
	if timeSteps <= 0 {
		exceptions.Panicf("Checker.TimeSteps(%d): must be > 0", timeSteps)
	}
	c.timeSteps = timeSteps
	return c
}

// Seed sets the seed used to initialize the models weights and to generate the synthetic batch.
// If not set, batchSize*timeSteps is used.
func (c *Checker) Seed(seed uint64) *Checker {
	c.seed = seed
	c.seedSet = true
	return c
}

// VariableLengths makes the synthetic batch use padded samples of different lengths, instead of
// all samples having the full number of frames. Shapes are unaffected.
func (c *Checker) VariableLengths(enabled bool) *Checker {
	c.variableLengths = enabled
	return c
}

// DummyLF0 makes Check replace the lf0 normalization fields of residual-F0 configurations
// with the dummy values modelconfig.Dummy*, whether or not the configuration sets them. They are
// usually only known after training statistics are collected.
func (c *Checker) DummyLF0(enabled bool) *Checker {
	c.dummyLF0 = enabled
	return c
}

// GetSeed returns the seed in use.
func (c *Checker) GetSeed() uint64 {
	if c.seedSet {
		return c.seed
	}
	return uint64(c.batchSize * c.timeSteps)
}

// Report of a successful check.
type Report struct {
	Source   string
	Target   string
	Category modelconfig.Category

	PredictionType models.PredictionType
	NumParams      int

	// NumGaussians is the number of mixture components observed, 0 for deterministic models.
	NumGaussians int

	// Input, Forward and Inference are the shapes observed.
	Input, Forward, Inference shapes.Shape

	// Discriminator target and number of parameters, for post-filters.
	Discriminator       string
	DiscriminatorParams int
}

func (c *Checker) newBatch(dim int) *Batch {
	batch := NewBatch(c.GetSeed(), c.batchSize, c.timeSteps, dim)
	if c.variableLengths {
		batch = batch.WithLengths(VariableLengths(c.GetSeed(), c.batchSize, c.timeSteps))
	}
	return batch
}

// Check validates the configuration, builds its netG with the registry and runs the check of
// the given category on it.
//
// If category is modelconfig.CategoryUnknown, the category registered for netG's `_target_` is used.
func (c *Checker) Check(cfg *modelconfig.ModelConfig, category modelconfig.Category) (*Report, error) {
	if err := cfg.Validate(modelconfig.CategoryUnknown); err != nil {
		return nil, err
	}
	if category == modelconfig.CategoryUnknown {
		registration, err := models.Lookup(cfg.Target())
		if err != nil {
			return nil, &ConstructionError{Source: cfg.Source, Network: "netG", Target: cfg.Target(), Err: err}
		}
		category = registration.Category
	}
	switch category {
	case modelconfig.CategoryStandard, modelconfig.CategoryResidualF0, modelconfig.CategoryPostFilter:
	default:
		return nil, errors.Errorf("config %q: no shape contract for category %s of %q", cfg.Source, category, cfg.Target())
	}
	if c.dummyLF0 && category == modelconfig.CategoryResidualF0 {
		cfg = cfg.ApplyDummyLF0()
	}
	if err := cfg.Validate(category); err != nil {
		return nil, err
	}
	cfg = cfg.Resolve()

	model, registeredCategory, err := models.Instantiate(cfg.NetG, c.GetSeed())
	if err != nil {
		return nil, &ConstructionError{Source: cfg.Source, Network: "netG", Target: cfg.Target(), Err: err}
	}
	if registeredCategory != category {
		klog.V(1).Infof("config %q: %q is registered as %s, checking it as %s", cfg.Source, cfg.Target(),
			registeredCategory, category)
	}

	switch category {
	case modelconfig.CategoryResidualF0:
		return c.CheckResidualF0(model, cfg)
	case modelconfig.CategoryPostFilter:
		return c.CheckPostFilter(model, cfg)
	default:
		return c.CheckStandard(model, cfg)
	}
}

// newReport validates the dimensions of the configuration and starts the report.
func (c *Checker) newReport(model models.Model, cfg *modelconfig.ModelConfig, category modelconfig.Category) (*Report, error) {
	if err := cfg.Validate(category); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.Errorf("config %q: nil model", cfg.Source)
	}
	return &Report{
		Source:         cfg.Source,
		Target:         cfg.Target(),
		Category:       category,
		PredictionType: model.PredictionType(),
		NumParams:      model.NumParams(),
	}, nil
}

// runPasses runs the forward and the inference passes on the batch. A pass that fails, or panics,
// is reported as a *ContractViolation on the "input" output.
func (c *Checker) runPasses(source string, model models.Model, batch *Batch) (forward, inference models.Output, err error) {
	for _, pass := range []struct {
		name   string
		fn     func() (models.Output, error)
		output *models.Output
	}{
		{PassForward, func() (models.Output, error) { return model.Forward(batch.Inputs, batch.Lengths) }, &forward},
		{PassInference, func() (models.Output, error) { return model.Inference(batch.Inputs, batch.Lengths) }, &inference},
	} {
		var passErr error
		panicErr := exceptions.TryCatch[error](func() { *pass.output, passErr = pass.fn() })
		if panicErr != nil {
			passErr = panicErr
		}
		if passErr == nil && !pass.output.Ok() {
			passErr = errors.New("empty output")
		}
		if passErr != nil {
			err = &ContractViolation{
				Source: source, Pass: pass.name, Output: "input", Axis: shapes.RankAxis,
				Expected: "a successful pass", Actual: "error",
				Reason: "pass failed on input shaped " + batch.Inputs.Shape().String(), Err: passErr,
			}
			return
		}
	}
	return
}

// CheckStandard checks a standard model built from cfg: both passes must return (batch, time, out_dim)
// outputs, with the mixture axis collapsed by the inference pass of probabilistic models.
func (c *Checker) CheckStandard(model models.Model, cfg *modelconfig.ModelConfig) (*Report, error) {
	report, err := c.newReport(model, cfg, modelconfig.CategoryStandard)
	if err != nil {
		return nil, err
	}
	outDim := cfg.OutDim()
	batch := c.newBatch(cfg.InDim())
	report.Input = batch.Inputs.Shape()
	y, yInf, err := c.runPasses(cfg.Source, model, batch)
	if err != nil {
		return nil, err
	}
	report.Forward, report.Inference = y.Shape(), yInf.Shape()

	if model.PredictionType() == models.Probabilistic {
		report.NumGaussians, err = c.checkMixture(cfg.Source, y, outDim)
		if err != nil {
			return nil, err
		}
		if err = c.checkCollapsed(cfg.Source, yInf, outDim); err != nil {
			return nil, err
		}
	} else {
		if err = c.checkSingle(cfg.Source, PassForward, "y", y, c.batchSize, c.timeSteps, outDim); err != nil {
			return nil, err
		}
		if err = c.checkSameShape(cfg.Source, yInf, y.Shape()); err != nil {
			return nil, err
		}
	}
	c.logReport(report)
	return report, nil
}

// CheckResidualF0 checks a residual-F0 model built from cfg: the forward pass must return
// (y, lf0_residual), with y following the standard contract, and lf0_residual shaped
// (batch, time, num_gaussians) for probabilistic models or (batch, time, 1) otherwise.
func (c *Checker) CheckResidualF0(model models.Model, cfg *modelconfig.ModelConfig) (*Report, error) {
	report, err := c.newReport(model, cfg, modelconfig.CategoryResidualF0)
	if err != nil {
		return nil, err
	}
	outDim := cfg.OutDim()
	batch := c.newBatch(cfg.InDim())
	report.Input = batch.Inputs.Shape()
	output, yInf, err := c.runPasses(cfg.Source, model, batch)
	if err != nil {
		return nil, err
	}
	report.Forward, report.Inference = output.Shape(), yInf.Shape()

	if !output.IsTuple() || output.Arity() != 2 {
		return nil, &ContractViolation{
			Source: cfg.Source, Pass: PassForward, Output: "y", Axis: shapes.RankAxis,
			Expected: "(y, lf0_residual)", Actual: output.Shape().String(),
			Reason: "residual-F0 models must return a 2-tuple",
		}
	}
	y, residual := output.Element(0), output.Element(1)
	if model.PredictionType() == models.Probabilistic {
		report.NumGaussians, err = c.checkMixture(cfg.Source, y, outDim)
		if err != nil {
			return nil, err
		}
		err = c.checkSingle(cfg.Source, PassForward, "lf0_residual", residual, c.batchSize, c.timeSteps, report.NumGaussians)
		if err != nil {
			return nil, err
		}
		if err = c.checkCollapsed(cfg.Source, yInf, outDim); err != nil {
			return nil, err
		}
	} else {
		if err = c.checkSingle(cfg.Source, PassForward, "lf0_residual", residual, c.batchSize, c.timeSteps, 1); err != nil {
			return nil, err
		}
		if err = c.checkSingle(cfg.Source, PassForward, "y", y, c.batchSize, c.timeSteps, outDim); err != nil {
			return nil, err
		}
		if err = c.checkSameShape(cfg.Source, yInf, y.Shape()); err != nil {
			return nil, err
		}
	}
	c.logReport(report)
	return report, nil
}

// CheckPostFilter checks a post-filter built from cfg: both passes must return an output with
// the exact shape of the input, whose width is the sum of netG's stream_sizes. The discriminator
// configured in netD must be constructible, but it is not run.
func (c *Checker) CheckPostFilter(model models.Model, cfg *modelconfig.ModelConfig) (*Report, error) {
	report, err := c.newReport(model, cfg, modelconfig.CategoryPostFilter)
	if err != nil {
		return nil, err
	}
	netD, netDCategory, err := models.Instantiate(cfg.NetD, c.GetSeed())
	if err != nil {
		return nil, &ConstructionError{Source: cfg.Source, Network: "netD", Target: cfg.NetD.Target, Err: err}
	}
	if netDCategory != modelconfig.CategoryDiscriminator {
		klog.V(1).Infof("config %q: netD %q is registered as %s", cfg.Source, cfg.NetD.Target, netDCategory)
	}
	report.Discriminator, report.DiscriminatorParams = cfg.NetD.Target, netD.NumParams()

	batch := c.newBatch(cfg.PostFilterDim())
	report.Input = batch.Inputs.Shape()
	y, yInf, err := c.runPasses(cfg.Source, model, batch)
	if err != nil {
		return nil, err
	}
	report.Forward, report.Inference = y.Shape(), yInf.Shape()
	inputDims := report.Input.Dimensions
	if err = c.checkSingle(cfg.Source, PassForward, "y", y, inputDims...); err != nil {
		return nil, err
	}
	if err = c.checkSingle(cfg.Source, PassInference, "y", yInf, inputDims...); err != nil {
		return nil, err
	}
	c.logReport(report)
	return report, nil
}

// checkSingle checks that output is a single tensor with the given dimensions.
func (c *Checker) checkSingle(source, pass, name string, output models.Output, dims ...int) error {
	if output.IsTuple() {
		return &ContractViolation{
			Source: source, Pass: pass, Output: name, Axis: shapes.RankAxis,
			Expected: "tensor " + shapes.DimsString(dims...), Actual: output.Shape().String(),
			Reason: "expected a single tensor, got a tuple",
		}
	}
	return checkOutputDims(source, pass, name, output.Shape(), dims...)
}

// checkSameShape checks that the inference output is a single tensor with the same shape as the forward one.
func (c *Checker) checkSameShape(source string, yInf models.Output, want shapes.Shape) error {
	if err := c.checkSingle(source, PassInference, "y", yInf, want.Dimensions...); err != nil {
		if violation, ok := err.(*ContractViolation); ok {
			violation.Reason += ", inference and forward outputs differ"
		}
		return err
	}
	return nil
}

// checkMixture checks the (log_pi, log_sigma, mu) forward output of a probabilistic model, and
// returns the number of mixture components, read from the third axis of log_pi.
func (c *Checker) checkMixture(source string, y models.Output, outDim int) (numGaussians int, err error) {
	if !y.IsTuple() || y.Arity() != 3 {
		return 0, &ContractViolation{
			Source: source, Pass: PassForward, Output: "y", Axis: shapes.RankAxis,
			Expected: "(log_pi, log_sigma, mu)", Actual: y.Shape().String(),
			Reason: "probabilistic models must return a 3-tuple",
		}
	}
	logPi := y.Element(0)
	if logPi.IsTuple() || logPi.Shape().Rank() < 3 {
		return 0, &ContractViolation{
			Source: source, Pass: PassForward, Output: "log_pi", Axis: shapes.RankAxis,
			Expected: "tensor (batch, time, num_gaussians, ...)", Actual: logPi.Shape().String(),
			Reason: "cannot read the number of mixture components",
		}
	}
	numGaussians = logPi.Shape().Dim(2)
	// log_pi is either per frame or per frame and feature (dim-wise mixtures).
	if logPi.Shape().Rank() == 4 {
		err = checkOutputDims(source, PassForward, "log_pi", logPi.Shape(), c.batchSize, c.timeSteps, numGaussians, outDim)
	} else {
		err = checkOutputDims(source, PassForward, "log_pi", logPi.Shape(), c.batchSize, c.timeSteps, numGaussians)
	}
	if err != nil {
		return 0, err
	}
	for _, element := range []struct {
		name  string
		index int
	}{{"mu", 2}, {"log_sigma", 1}} {
		err = c.checkSingle(source, PassForward, element.name, y.Element(element.index),
			c.batchSize, c.timeSteps, numGaussians, outDim)
		if err != nil {
			return 0, err
		}
	}
	return numGaussians, nil
}

// checkCollapsed checks the (mu, sigma) inference output of a probabilistic model.
func (c *Checker) checkCollapsed(source string, yInf models.Output, outDim int) error {
	if !yInf.IsTuple() || yInf.Arity() != 2 {
		return &ContractViolation{
			Source: source, Pass: PassInference, Output: "y", Axis: shapes.RankAxis,
			Expected: "(mu, sigma)", Actual: yInf.Shape().String(),
			Reason: "probabilistic models must return a 2-tuple from inference",
		}
	}
	for ii, name := range []string{"mu", "sigma"} {
		if err := c.checkSingle(source, PassInference, name, yInf.Element(ii), c.batchSize, c.timeSteps, outDim); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) logReport(report *Report) {
	klog.V(1).Infof("config %q: %s %s (%s) input=%s forward=%s inference=%s", report.Source, report.Category,
		report.Target, report.PredictionType, report.Input, report.Forward, report.Inference)
}
