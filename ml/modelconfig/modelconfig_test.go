package modelconfig

import (
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testdataDir = filepath.Join("..", "..", "testdata")

func parse(t *testing.T, contents string) *ModelConfig {
	mc, err := Parse([]byte(contents), t.Name())
	require.NoError(t, err)
	return mc
}

func requireConfigError(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr), "expected a *ConfigError, got %T: %v", err, err)
	assert.Equal(t, field, configErr.Field, "error: %v", err)
}

func TestCategory(t *testing.T) {
	for _, category := range []Category{CategoryUnknown, CategoryStandard, CategoryResidualF0,
		CategoryPostFilter, CategoryDiscriminator} {
		got, found := CategoryFromName(category.String())
		require.True(t, found)
		assert.Equal(t, category, got)
	}
	_, found := CategoryFromName("acoustic")
	assert.False(t, found)
	assert.Equal(t, "invalid", Category(17).String())
}

func TestParse(t *testing.T) {
	mc := parse(t, `
netG:
  _target_: nnsvs.model.Conv1dResnet
  in_dim: 86
  hidden_dim: 256
  num_layers: 4
  use_mdn: true
  num_gaussians: 8
  init_type: kaiming_normal
  weight_norm: true
stream_sizes: [180, 3, 1, 15]
`)
	assert.Equal(t, t.Name(), mc.Source)
	require.NotNil(t, mc.NetG)
	assert.Nil(t, mc.NetD)
	assert.Equal(t, "nnsvs.model.Conv1dResnet", mc.Target())
	assert.Equal(t, 86, mc.InDim())
	assert.Nil(t, mc.NetG.OutDim)
	assert.Equal(t, 199, mc.OutDim())
	assert.True(t, mc.NetG.IsProbabilistic())
	assert.Equal(t, 8, mc.NetG.NumGaussians)
	assert.Equal(t, []string{"init_type", "weight_norm"}, mc.NetG.ExtraKeys())

	// Explicit nulls are the same as missing fields.
	mc = parse(t, `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  out_dim: 199
  in_lf0_idx: null
  out_lf0_scale: 0.25
`)
	assert.Nil(t, mc.NetG.InLF0Idx)
	assert.Equal(t, 0.25, Deref(mc.NetG.OutLF0Scale, 0))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("netG: {_target_: [unclosed"), "broken.yaml")
	requireConfigError(t, err, "")
	assert.Contains(t, err.Error(), "broken.yaml")

	_, err = Parse([]byte("# nothing here\n"), "empty.yaml")
	requireConfigError(t, err, "")
}

func TestLoad(t *testing.T) {
	mc := must.M1(Load(filepath.Join(testdataDir, "conf", "train", "model", "ffn.yaml")))
	assert.Equal(t, "nnsvs.model.FFN", mc.Target())
	assert.Equal(t, 80, mc.InDim())
	assert.Equal(t, 187, mc.OutDim())
	require.NoError(t, mc.Validate(CategoryStandard))

	_, err := Load(filepath.Join(testdataDir, "invalid", "malformed.yaml"))
	requireConfigError(t, err, "")

	// I/O errors are not configuration errors.
	_, err = Load(filepath.Join(testdataDir, "does_not_exist.yaml"))
	require.Error(t, err)
	var configErr *ConfigError
	assert.False(t, errors.As(err, &configErr))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		category Category
		field    string // Empty if valid.
	}{
		{"standard", "netG: {_target_: nnsvs.model.FFN, in_dim: 80, out_dim: 187}", CategoryStandard, ""},
		{"top-level stream_sizes", "netG: {_target_: nnsvs.model.FFN, in_dim: 80}\nstream_sizes: [60, 1]", CategoryStandard, ""},
		{"missing out_dim", "netG: {_target_: nnsvs.model.FFN, in_dim: 80}", CategoryStandard, "netG.out_dim"},
		{"missing in_dim", "netG: {_target_: nnsvs.model.FFN, out_dim: 187}", CategoryStandard, "netG.in_dim"},
		{"missing netG", "netD: {_target_: nnsvs.discriminators.FFNDiscriminator}", CategoryStandard, "netG"},
		{"missing target", "netG: {in_dim: 80, out_dim: 187}", CategoryUnknown, "netG._target_"},
		{"zero out_dim", "netG: {_target_: nnsvs.model.FFN, in_dim: 80, out_dim: 0}", CategoryStandard, "netG.out_dim"},
		{"bad stream size", "netG: {_target_: nnsvs.model.FFN, in_dim: 80, stream_sizes: [60, 0]}", CategoryStandard, "netG.stream_sizes"},
		{"even kernel", "netG: {_target_: nnsvs.model.Conv1dResnet, in_dim: 80, out_dim: 1, kernel_size: 4}", CategoryStandard, "netG.kernel_size"},
		{"negative gaussians", "netG: {_target_: nnsvs.model.MDN, in_dim: 80, out_dim: 1, num_gaussians: -1}", CategoryStandard, "netG.num_gaussians"},
		{"mdn default gaussians", "netG: {_target_: nnsvs.model.MDN, in_dim: 80, out_dim: 1, use_mdn: true}", CategoryStandard, ""},
		{"resf0 missing lf0", "netG: {_target_: nnsvs.acoustic_models.ResF0FFN, in_dim: 80, out_dim: 187}", CategoryResidualF0, "netG.in_lf0_idx"},
		{"resf0", `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  out_dim: 199
  in_lf0_idx: 51
  in_lf0_min: 5.0
  in_lf0_max: 6.5
  out_lf0_idx: 180
  out_lf0_mean: 5.9
  out_lf0_scale: 0.2
`, CategoryResidualF0, ""},
		{"resf0 index out of range", `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  out_dim: 100
  in_lf0_idx: 51
  in_lf0_min: 5.0
  in_lf0_max: 6.5
  out_lf0_idx: 180
  out_lf0_mean: 5.9
  out_lf0_scale: 0.2
`, CategoryResidualF0, "netG.out_lf0_idx"},
		{"resf0 inverted range", `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  out_dim: 199
  in_lf0_idx: 51
  in_lf0_min: 6.5
  in_lf0_max: 5.0
  out_lf0_idx: 180
  out_lf0_mean: 5.9
  out_lf0_scale: 0.2
`, CategoryResidualF0, "netG.in_lf0_max"},
		{"postfilter", `
netG:
  _target_: nnsvs.postfilters.MultistreamPostFilter
  stream_sizes: [60, 1, 1, 15]
  mgc_postfilter: {_target_: nnsvs.postfilters.Conv1dPostFilter}
netD: {_target_: nnsvs.discriminators.FFNDiscriminator, in_dim: 60}
`, CategoryPostFilter, ""},
		{"postfilter without streams", `
netG: {_target_: nnsvs.postfilters.Conv1dPostFilter, in_dim: 77}
netD: {_target_: nnsvs.discriminators.FFNDiscriminator, in_dim: 60}
`, CategoryPostFilter, "netG.stream_sizes"},
		{"postfilter without netD", "netG: {_target_: nnsvs.postfilters.Conv1dPostFilter, stream_sizes: [60, 1]}", CategoryPostFilter, "netD"},
		{"postfilter bad sub-filter", `
netG:
  _target_: nnsvs.postfilters.MultistreamPostFilter
  stream_sizes: [60, 1, 1, 15]
  bap_postfilter: {kernel_size: 3}
netD: {_target_: nnsvs.discriminators.FFNDiscriminator, in_dim: 60}
`, CategoryPostFilter, "netG.bap_postfilter._target_"},
		{"postfilter netD without in_dim", `
netG: {_target_: nnsvs.postfilters.Conv1dPostFilter, stream_sizes: [60, 1]}
netD: {_target_: nnsvs.discriminators.FFNDiscriminator}
`, CategoryPostFilter, "netD.in_dim"},
		{"discriminator", "netG: {_target_: nnsvs.discriminators.FFNDiscriminator}", CategoryDiscriminator, "netG.in_dim"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mc := parse(t, tc.contents)
			err := mc.Validate(tc.category)
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			requireConfigError(t, err, tc.field)
		})
	}
}

func TestApplyDummyLF0(t *testing.T) {
	mc := parse(t, `
netG:
  _target_: nnsvs.acoustic_models.ResF0Conv1dResnet
  in_dim: 86
  stream_sizes: [180, 3, 1, 15]
  in_lf0_idx: 51
`)
	requireConfigError(t, mc.Validate(CategoryResidualF0), "netG.in_lf0_min")

	filled := mc.ApplyDummyLF0()
	require.NoError(t, filled.Validate(CategoryResidualF0))
	assert.Equal(t, DummyInLF0Idx, *filled.NetG.InLF0Idx)
	assert.Equal(t, DummyInLF0Min, *filled.NetG.InLF0Min)
	assert.Equal(t, DummyInLF0Max, *filled.NetG.InLF0Max)
	assert.Equal(t, DummyOutLF0Idx, *filled.NetG.OutLF0Idx)
	assert.Equal(t, DummyOutLF0Mean, *filled.NetG.OutLF0Mean)
	assert.Equal(t, DummyOutLF0Scale, *filled.NetG.OutLF0Scale)

	// The original configuration is not changed.
	assert.Nil(t, mc.NetG.InLF0Min)
	*filled.NetG.InLF0Idx = 3
	assert.Equal(t, 51, *mc.NetG.InLF0Idx)

	// Values that don't fit the dimensions are overwritten too.
	stale := parse(t, `
netG:
  _target_: nnsvs.acoustic_models.ResF0FFN
  in_dim: 86
  out_dim: 199
  in_lf0_idx: 300
  in_lf0_min: 7.0
  in_lf0_max: 6.0
  out_lf0_idx: 250
  out_lf0_mean: 5.9
  out_lf0_scale: -1
`)
	requireConfigError(t, stale.Validate(CategoryResidualF0), "netG.in_lf0_idx")
	filled = stale.ApplyDummyLF0()
	require.NoError(t, filled.Validate(CategoryResidualF0))
	assert.Equal(t, DummyInLF0Idx, *filled.NetG.InLF0Idx)
	assert.Equal(t, DummyOutLF0Idx, *filled.NetG.OutLF0Idx)
	assert.Equal(t, DummyOutLF0Scale, *filled.NetG.OutLF0Scale)
}

func TestResolve(t *testing.T) {
	mc := parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 80}\nstream_sizes: [60, 1, 1, 15]")
	resolved := mc.Resolve()
	require.NotNil(t, resolved.NetG.OutDim)
	assert.Equal(t, 77, *resolved.NetG.OutDim)
	assert.Equal(t, 77, resolved.NetG.OutputDim())
	assert.Nil(t, mc.NetG.OutDim)

	mc = parse(t, "netG: {_target_: nnsvs.model.FFN, in_dim: 80, out_dim: 5}\nstream_sizes: [60, 1, 1, 15]")
	assert.Equal(t, 5, *mc.Resolve().NetG.OutDim)
}

func TestClone(t *testing.T) {
	mc := parse(t, `
netG:
  _target_: nnsvs.postfilters.MultistreamPostFilter
  stream_sizes: [60, 1, 1, 15]
  mgc_postfilter: {_target_: nnsvs.postfilters.Conv1dPostFilter, in_dim: 58}
  foo: bar
`)
	mc2 := mc.Clone()
	mc2.NetG.StreamSizes[0] = 1
	*mc2.NetG.MGCPostFilter.InDim = 1
	mc2.NetG.Extra["foo"] = "baz"
	assert.Equal(t, 60, mc.NetG.StreamSizes[0])
	assert.Equal(t, 58, *mc.NetG.MGCPostFilter.InDim)
	assert.Equal(t, "bar", mc.NetG.Extra["foo"])
}
