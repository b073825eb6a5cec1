package shapecheck

import (
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/models"
	"github.com/gomlx/svscheck/types/tensors"
)

var testdataDir = filepath.Join("..", "..", "testdata")

func load(t *testing.T, parts ...string) *modelconfig.ModelConfig {
	return must.M1(modelconfig.Load(filepath.Join(append([]string{testdataDir}, parts...)...)))
}

func parse(t *testing.T, contents string) *modelconfig.ModelConfig {
	return must.M1(modelconfig.Parse([]byte(contents), t.Name()))
}

func requireViolation(t *testing.T, err error, pass, output string, axis int) *ContractViolation {
	t.Helper()
	require.Error(t, err)
	var violation *ContractViolation
	require.True(t, errors.As(err, &violation), "expected a *ContractViolation, got %T: %v", err, err)
	assert.Equal(t, pass, violation.Pass, "error: %v", err)
	assert.Equal(t, output, violation.Output, "error: %v", err)
	assert.Equal(t, axis, violation.Axis, "error: %v", err)
	return violation
}

func TestCheckStandard(t *testing.T) {
	checker := New()
	assert.Equal(t, uint64(400), checker.GetSeed())

	// in_dim=80, out_dim=187, deterministic.
	report, err := checker.Check(load(t, "conf", "train", "model", "ffn.yaml"), modelconfig.CategoryStandard)
	require.NoError(t, err)
	assert.Equal(t, modelconfig.CategoryStandard, report.Category)
	assert.Equal(t, models.Deterministic, report.PredictionType)
	assert.Equal(t, []int{4, 100, 80}, report.Input.Dimensions)
	assert.Equal(t, []int{4, 100, 187}, report.Forward.Dimensions)
	assert.Equal(t, []int{4, 100, 187}, report.Inference.Dimensions)
	assert.Zero(t, report.NumGaussians)
	assert.Greater(t, report.NumParams, 0)

	// Dim-wise mixture density network.
	report, err = checker.Check(load(t, "conf", "train", "model", "conv1d_resnet_mdn.yaml"), modelconfig.CategoryUnknown)
	require.NoError(t, err)
	assert.Equal(t, models.Probabilistic, report.PredictionType)
	assert.Equal(t, 8, report.NumGaussians)
	require.Equal(t, 3, report.Forward.TupleSize())
	assert.Equal(t, []int{4, 100, 8, 187}, report.Forward.TupleShapes[2].Dimensions)
	require.Equal(t, 2, report.Inference.TupleSize())
	assert.Equal(t, []int{4, 100, 187}, report.Inference.TupleShapes[0].Dimensions)
	assert.Equal(t, []int{4, 100, 187}, report.Inference.TupleShapes[1].Dimensions)

	// out_dim from the top-level stream_sizes, with padded sequences.
	report, err = New().VariableLengths(true).Check(load(t, "recipes", "demo", "conf", "train", "acoustic", "model", "conv1d_resnet.yaml"),
		modelconfig.CategoryStandard)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 100, 199}, report.Forward.Dimensions)
}

func TestCheckConfigErrors(t *testing.T) {
	checker := New()

	// Missing out_dim and no stream_sizes: fails before the model is built.
	_, err := checker.Check(load(t, "invalid", "missing_out_dim.yaml"), modelconfig.CategoryStandard)
	var configErr *modelconfig.ConfigError
	require.True(t, errors.As(err, &configErr), "got %v", err)
	assert.Equal(t, "netG.out_dim", configErr.Field)

	// Same with the category taken from the registry.
	_, err = checker.Check(load(t, "invalid", "missing_out_dim.yaml"), modelconfig.CategoryUnknown)
	require.True(t, errors.As(err, &configErr), "got %v", err)

	// Residual-F0 configuration without the lf0 normalization values.
	resF0 := load(t, "conf", "train_resf0", "model", "resf0_conv1d_resnet.yaml")
	_, err = checker.Check(resF0, modelconfig.CategoryResidualF0)
	require.True(t, errors.As(err, &configErr), "got %v", err)
	assert.Equal(t, "netG.in_lf0_idx", configErr.Field)

	// A model given directly is checked against the configuration too.
	model := must.M1(instantiate(parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 8, out_dim: 3}")))
	_, err = checker.CheckStandard(model, parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 8}"))
	require.True(t, errors.As(err, &configErr), "got %v", err)
}

func TestCheckConstructionErrors(t *testing.T) {
	checker := New()
	_, err := checker.Check(load(t, "invalid", "unknown_target.yaml"), modelconfig.CategoryStandard)
	var constructionErr *ConstructionError
	require.True(t, errors.As(err, &constructionErr), "got %v", err)
	assert.Equal(t, "netG", constructionErr.Network)
	assert.Equal(t, "nnsvs.model.Transformer", constructionErr.Target)
	assert.True(t, errors.Is(err, models.ErrUnknownTarget))

	_, err = checker.Check(load(t, "invalid", "unknown_target.yaml"), modelconfig.CategoryUnknown)
	require.True(t, errors.As(err, &constructionErr), "got %v", err)

	// Constructor failure: activation not supported.
	_, err = checker.Check(parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 8, out_dim: 3, activation: swish}"),
		modelconfig.CategoryStandard)
	require.True(t, errors.As(err, &constructionErr), "got %v", err)

	// Post-filter whose discriminator can't be built.
	_, err = checker.Check(parse(t, `
netG: {_target_: nnsvs.postfilters.Conv1dPostFilter, stream_sizes: [10, 1], channels: 4}
netD: {_target_: nnsvs.discriminators.TransformerDiscriminator, in_dim: 10}
`), modelconfig.CategoryPostFilter)
	require.True(t, errors.As(err, &constructionErr), "got %v", err)
	assert.Equal(t, "netD", constructionErr.Network)

	// Discriminators have no contract of their own.
	_, err = checker.Check(parse(t, "netG: {_target_: nnsvs.discriminators.FFNDiscriminator, in_dim: 8}"),
		modelconfig.CategoryUnknown)
	require.Error(t, err)
}

func TestCheckResidualF0(t *testing.T) {
	checker := New().DummyLF0(true)
	report, err := checker.Check(load(t, "conf", "train_resf0", "model", "resf0_conv1d_resnet.yaml"),
		modelconfig.CategoryResidualF0)
	require.NoError(t, err)
	assert.Equal(t, modelconfig.CategoryResidualF0, report.Category)
	require.Equal(t, 2, report.Forward.TupleSize())
	assert.Equal(t, []int{4, 100, 199}, report.Forward.TupleShapes[0].Dimensions)
	assert.Equal(t, []int{4, 100, 1}, report.Forward.TupleShapes[1].Dimensions)
	assert.Equal(t, []int{4, 100, 199}, report.Inference.Dimensions)

	// lf0 values from the recipe's own features are replaced by the dummy ones.
	stale := parse(t, `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  hidden_dim: 16
  out_dim: 199
  num_layers: 1
  in_lf0_idx: 300
  in_lf0_min: 5.0
  in_lf0_max: 6.5
  out_lf0_idx: 180
  out_lf0_mean: 5.9
  out_lf0_scale: 0.2
`)
	_, err = New().Check(stale, modelconfig.CategoryResidualF0)
	var configErr *modelconfig.ConfigError
	require.True(t, errors.As(err, &configErr), "expected a *modelconfig.ConfigError, got %v", err)
	assert.Equal(t, "netG.in_lf0_idx", configErr.Field)
	report, err = checker.Check(stale, modelconfig.CategoryResidualF0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 100, 199}, report.Inference.Dimensions)
	assert.Equal(t, 300, *stale.NetG.InLF0Idx)

	report, err = checker.Check(load(t, "recipes", "demo", "conf", "train_resf0", "acoustic", "model", "resf0_ffn_mdn.yaml"),
		modelconfig.CategoryUnknown)
	require.NoError(t, err)
	assert.Equal(t, models.Probabilistic, report.PredictionType)
	assert.Equal(t, 4, report.NumGaussians)
	assert.Equal(t, []int{4, 100, 4}, report.Forward.TupleShapes[1].Dimensions)
	require.Equal(t, 2, report.Inference.TupleSize())
	assert.Equal(t, []int{4, 100, 199}, report.Inference.TupleShapes[0].Dimensions)
}

func TestCheckPostFilter(t *testing.T) {
	report, err := New().Check(load(t, "recipes", "demo", "conf", "train_postfilter", "model", "multistream.yaml"),
		modelconfig.CategoryPostFilter)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 100, 77}, report.Input.Dimensions)
	assert.True(t, report.Forward.Equal(report.Input))
	assert.True(t, report.Inference.Equal(report.Input))
	assert.Equal(t, models.TargetConv1dDiscriminator, report.Discriminator)
	assert.Greater(t, report.DiscriminatorParams, 0)
}

func TestCheckIsReproducible(t *testing.T) {
	cfg := load(t, "conf", "train", "model", "conv1d_resnet_mdn.yaml")
	for _, checker := range []*Checker{New(), New().Seed(7).VariableLengths(true), New().BatchSize(2).TimeSteps(13)} {
		r1 := must.M1(checker.Check(cfg, modelconfig.CategoryStandard))
		r2 := must.M1(checker.Check(cfg, modelconfig.CategoryStandard))
		assert.True(t, r1.Forward.Equal(r2.Forward))
		assert.True(t, r1.Inference.Equal(r2.Inference))
	}
	report := must.M1(New().BatchSize(2).TimeSteps(13).Check(cfg, modelconfig.CategoryStandard))
	assert.Equal(t, []int{2, 13, 187}, report.Inference.TupleShapes[0].Dimensions)
	require.Panics(t, func() { New().BatchSize(0) })
	require.Panics(t, func() { New().TimeSteps(-1) })
}

// fakeModel returns fixed outputs, to exercise the contract violations.
type fakeModel struct {
	predictionType       models.PredictionType
	forward, inference   func() models.Output
	forwardErr, panicMsg string
}

func (f *fakeModel) Forward(_ *tensors.Tensor, _ []int) (models.Output, error) {
	if f.forwardErr != "" {
		return models.Output{}, errors.New(f.forwardErr)
	}
	if f.panicMsg != "" {
		panic(errors.New(f.panicMsg))
	}
	return f.forward(), nil
}

func (f *fakeModel) Inference(_ *tensors.Tensor, _ []int) (models.Output, error) {
	return f.inference(), nil
}

func (f *fakeModel) PredictionType() models.PredictionType { return f.predictionType }
func (f *fakeModel) NumParams() int                        { return 0 }

func single(dims ...int) func() models.Output {
	return func() models.Output { return models.Single(tensors.Zeros(dims...)) }
}

func tuple(elements ...[]int) func() models.Output {
	return func() models.Output {
		ts := make([]*tensors.Tensor, len(elements))
		for ii, dims := range elements {
			ts[ii] = tensors.Zeros(dims...)
		}
		return models.Tensors(ts...)
	}
}

func TestContractViolations(t *testing.T) {
	checker := New()
	standard := parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 8, out_dim: 5}")
	deterministic := func(forward, inference func() models.Output) *fakeModel {
		return &fakeModel{predictionType: models.Deterministic, forward: forward, inference: inference}
	}
	probabilistic := func(forward, inference func() models.Output) *fakeModel {
		return &fakeModel{predictionType: models.Probabilistic, forward: forward, inference: inference}
	}

	// Sanity check: the fakes can pass.
	_, err := checker.CheckStandard(deterministic(single(4, 100, 5), single(4, 100, 5)), standard)
	require.NoError(t, err)
	report, err := checker.CheckStandard(probabilistic(
		tuple([]int{4, 100, 3}, []int{4, 100, 3, 5}, []int{4, 100, 3, 5}),
		tuple([]int{4, 100, 5}, []int{4, 100, 5})), standard)
	require.NoError(t, err)
	assert.Equal(t, 3, report.NumGaussians)

	// Wrong output width.
	_, err = checker.CheckStandard(deterministic(single(4, 100, 6), single(4, 100, 6)), standard)
	violation := requireViolation(t, err, PassForward, "y", 2)
	assert.Equal(t, "[4 100 5]", violation.Expected)
	assert.Contains(t, violation.Actual, "[4 100 6]")

	// Inference differs from forward.
	_, err = checker.CheckStandard(deterministic(single(4, 100, 5), single(4, 99, 5)), standard)
	requireViolation(t, err, PassInference, "y", 1)

	// Tuple from a deterministic model.
	_, err = checker.CheckStandard(deterministic(tuple([]int{4, 100, 5}), single(4, 100, 5)), standard)
	requireViolation(t, err, PassForward, "y", -1)

	// Probabilistic model returning a single tensor.
	_, err = checker.CheckStandard(probabilistic(single(4, 100, 5), single(4, 100, 5)), standard)
	requireViolation(t, err, PassForward, "y", -1)

	// mu with a different number of mixture components than log_pi.
	_, err = checker.CheckStandard(probabilistic(
		tuple([]int{4, 100, 3}, []int{4, 100, 3, 5}, []int{4, 100, 2, 5}),
		tuple([]int{4, 100, 5}, []int{4, 100, 5})), standard)
	requireViolation(t, err, PassForward, "mu", 2)

	// log_sigma with the wrong width.
	_, err = checker.CheckStandard(probabilistic(
		tuple([]int{4, 100, 3}, []int{4, 100, 3, 4}, []int{4, 100, 3, 5}),
		tuple([]int{4, 100, 5}, []int{4, 100, 5})), standard)
	requireViolation(t, err, PassForward, "log_sigma", 3)

	// Inference not collapsing the mixture axis.
	_, err = checker.CheckStandard(probabilistic(
		tuple([]int{4, 100, 3}, []int{4, 100, 3, 5}, []int{4, 100, 3, 5}),
		tuple([]int{4, 100, 3, 5}, []int{4, 100, 3, 5})), standard)
	requireViolation(t, err, PassInference, "mu", -1)

	// Inference returning a 3-tuple.
	_, err = checker.CheckStandard(probabilistic(
		tuple([]int{4, 100, 3}, []int{4, 100, 3, 5}, []int{4, 100, 3, 5}),
		tuple([]int{4, 100, 5}, []int{4, 100, 5}, []int{4, 100, 5})), standard)
	requireViolation(t, err, PassInference, "y", -1)

	// Failing and panicking passes.
	_, err = checker.CheckStandard(&fakeModel{forwardErr: "out of memory"}, standard)
	violation = requireViolation(t, err, PassForward, "input", -1)
	assert.Contains(t, violation.Error(), "out of memory")
	_, err = checker.CheckStandard(&fakeModel{panicMsg: "index out of range"}, standard)
	violation = requireViolation(t, err, PassForward, "input", -1)
	assert.Contains(t, violation.Error(), "index out of range")
}

func TestResidualF0ContractViolations(t *testing.T) {
	checker := New()
	cfg := parse(t, `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 8
  out_dim: 5
  in_lf0_idx: 2
  in_lf0_min: 5.0
  in_lf0_max: 6.5
  out_lf0_idx: 4
  out_lf0_mean: 5.9
  out_lf0_scale: 0.2
`)
	model := func(predictionType models.PredictionType, forward, inference func() models.Output) *fakeModel {
		return &fakeModel{predictionType: predictionType, forward: forward, inference: inference}
	}
	pair := func(y, residual func() models.Output) func() models.Output {
		return func() models.Output { return models.Tuple(y(), residual()) }
	}
	mixture := tuple([]int{4, 100, 3}, []int{4, 100, 3, 5}, []int{4, 100, 3, 5})
	collapsed := tuple([]int{4, 100, 5}, []int{4, 100, 5})

	_, err := checker.CheckResidualF0(model(models.Deterministic, pair(single(4, 100, 5), single(4, 100, 1)), single(4, 100, 5)), cfg)
	require.NoError(t, err)
	_, err = checker.CheckResidualF0(model(models.Probabilistic, pair(mixture, single(4, 100, 3)), collapsed), cfg)
	require.NoError(t, err)

	// Checked directly, the configuration still needs the lf0 normalization fields.
	_, err = checker.CheckResidualF0(model(models.Deterministic, pair(single(4, 100, 5), single(4, 100, 1)), single(4, 100, 5)),
		parse(t, "netG: {_target_: nnsvs.acoustic_models.ResF0FFN, in_dim: 8, out_dim: 5}"))
	var configErr *modelconfig.ConfigError
	require.True(t, errors.As(err, &configErr), "expected a *modelconfig.ConfigError, got %v", err)
	assert.Equal(t, "netG.in_lf0_idx", configErr.Field)

	// Not a pair.
	_, err = checker.CheckResidualF0(model(models.Deterministic, single(4, 100, 5), single(4, 100, 5)), cfg)
	requireViolation(t, err, PassForward, "y", -1)

	// Deterministic residual wider than 1.
	_, err = checker.CheckResidualF0(model(models.Deterministic, pair(single(4, 100, 5), single(4, 100, 3)), single(4, 100, 5)), cfg)
	requireViolation(t, err, PassForward, "lf0_residual", 2)

	// Probabilistic residual not matching the number of mixture components.
	_, err = checker.CheckResidualF0(model(models.Probabilistic, pair(mixture, single(4, 100, 1)), collapsed), cfg)
	requireViolation(t, err, PassForward, "lf0_residual", 2)

	// Main output and inference output differ.
	_, err = checker.CheckResidualF0(model(models.Deterministic, pair(single(4, 100, 5), single(4, 100, 1)), single(4, 100, 4)), cfg)
	requireViolation(t, err, PassInference, "y", 2)
}

func TestPostFilterContractViolations(t *testing.T) {
	checker := New()
	cfg := parse(t, `
netG: {_target_: nnsvs.postfilters.Conv1dPostFilter, stream_sizes: [4, 1, 1, 2]}
netD: {_target_: nnsvs.discriminators.FFNDiscriminator, in_dim: 4, hidden_dim: 4}
`)
	model := &fakeModel{predictionType: models.Deterministic, forward: single(4, 100, 8), inference: single(4, 100, 8)}
	_, err := checker.CheckPostFilter(model, cfg)
	require.NoError(t, err)

	// Output width from the first stream only.
	model.forward = single(4, 100, 4)
	_, err = checker.CheckPostFilter(model, cfg)
	requireViolation(t, err, PassForward, "y", 2)

	model.forward = single(4, 100, 8)
	model.inference = tuple([]int{4, 100, 8})
	_, err = checker.CheckPostFilter(model, cfg)
	requireViolation(t, err, PassInference, "y", -1)
}

func instantiate(cfg *modelconfig.ModelConfig) (models.Model, error) {
	model, _, err := models.Instantiate(cfg.NetG, 0)
	return model, err
}
