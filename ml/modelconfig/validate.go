package modelconfig

// Dummy lf0 normalization values, used to exercise residual-F0 models whose configurations
// leave them to be filled in from training statistics.
const (
	DummyInLF0Idx    = 10
	DummyInLF0Min    = 5.3936276
	DummyInLF0Max    = 6.491111
	DummyOutLF0Idx   = 180
	DummyOutLF0Mean  = 5.953093881972361
	DummyOutLF0Scale = 0.23435173188961034
)

// Validate checks that the configuration has all the fields required to build and check a model
// of the given category. It returns the first problem found as a *ConfigError, or nil.
//
// CategoryUnknown only checks the fields common to all categories.
func (mc *ModelConfig) Validate(category Category) error {
	source := mc.Source
	if mc.NetG == nil {
		return configErrorf(source, "netG", "missing network configuration")
	}
	if err := validateNet(source, "netG", mc.NetG); err != nil {
		return err
	}

	switch category {
	case CategoryStandard, CategoryResidualF0:
		if err := mc.validateDims(); err != nil {
			return err
		}
		if category == CategoryResidualF0 {
			return mc.validateLF0()
		}
	case CategoryPostFilter:
		return mc.validatePostFilter()
	case CategoryDiscriminator:
		if mc.NetG.InDim == nil {
			return configErrorf(source, "netG.in_dim", "missing")
		}
	case CategoryUnknown:
	default:
		return configErrorf(source, "", "invalid category %d", category)
	}
	return nil
}

func validateNet(source, prefix string, net *NetConfig) error {
	if net.Target == "" {
		return configErrorf(source, prefix+"._target_", "missing")
	}
	if net.InDim != nil && *net.InDim <= 0 {
		return configErrorf(source, prefix+".in_dim", "must be > 0, got %d", *net.InDim)
	}
	if net.OutDim != nil && *net.OutDim <= 0 {
		return configErrorf(source, prefix+".out_dim", "must be > 0, got %d", *net.OutDim)
	}
	for ii, size := range net.StreamSizes {
		if size <= 0 {
			return configErrorf(source, prefix+".stream_sizes", "stream %d has size %d, must be > 0", ii, size)
		}
	}
	if net.HiddenDim < 0 || net.NumLayers < 0 || net.KernelSize < 0 || net.Channels < 0 {
		return configErrorf(source, prefix, "hidden_dim, num_layers, kernel_size and channels cannot be negative")
	}
	if net.KernelSize > 0 && net.KernelSize%2 == 0 {
		return configErrorf(source, prefix+".kernel_size", "must be odd, got %d", net.KernelSize)
	}
	if net.NumGaussians < 0 {
		return configErrorf(source, prefix+".num_gaussians", "must be >= 1, got %d", net.NumGaussians)
	}
	return nil
}

func (mc *ModelConfig) validateDims() error {
	if mc.NetG.InDim == nil {
		return configErrorf(mc.Source, "netG.in_dim", "missing")
	}
	if mc.OutDim() <= 0 {
		return configErrorf(mc.Source, "netG.out_dim", "missing, and no stream_sizes to derive it from")
	}
	return nil
}

func (mc *ModelConfig) validateLF0() error {
	net := mc.NetG
	required := []struct {
		name  string
		isSet bool
	}{
		{"in_lf0_idx", net.InLF0Idx != nil},
		{"in_lf0_min", net.InLF0Min != nil},
		{"in_lf0_max", net.InLF0Max != nil},
		{"out_lf0_idx", net.OutLF0Idx != nil},
		{"out_lf0_mean", net.OutLF0Mean != nil},
		{"out_lf0_scale", net.OutLF0Scale != nil},
	}
	for _, field := range required {
		if !field.isSet {
			return configErrorf(mc.Source, "netG."+field.name, "missing (required by residual-F0 models)")
		}
	}
	if idx := *net.InLF0Idx; idx < 0 || idx >= mc.InDim() {
		return configErrorf(mc.Source, "netG.in_lf0_idx", "%d out of range for in_dim=%d", idx, mc.InDim())
	}
	if idx := *net.OutLF0Idx; idx < 0 || idx >= mc.OutDim() {
		return configErrorf(mc.Source, "netG.out_lf0_idx", "%d out of range for out_dim=%d", idx, mc.OutDim())
	}
	if *net.InLF0Max <= *net.InLF0Min {
		return configErrorf(mc.Source, "netG.in_lf0_max", "must be greater than in_lf0_min (%g <= %g)",
			*net.InLF0Max, *net.InLF0Min)
	}
	if *net.OutLF0Scale <= 0 {
		return configErrorf(mc.Source, "netG.out_lf0_scale", "must be > 0, got %g", *net.OutLF0Scale)
	}
	return nil
}

func (mc *ModelConfig) validatePostFilter() error {
	if len(mc.NetG.StreamSizes) == 0 {
		return configErrorf(mc.Source, "netG.stream_sizes", "missing (required by post-filters)")
	}
	for _, sub := range []struct {
		name string
		net  *NetConfig
	}{
		{"netG.mgc_postfilter", mc.NetG.MGCPostFilter},
		{"netG.bap_postfilter", mc.NetG.BAPPostFilter},
		{"netG.lf0_postfilter", mc.NetG.LF0PostFilter},
	} {
		if sub.net == nil {
			continue
		}
		if err := validateNet(mc.Source, sub.name, sub.net); err != nil {
			return err
		}
	}
	if mc.NetD == nil {
		return configErrorf(mc.Source, "netD", "missing (post-filters require a discriminator)")
	}
	if err := validateNet(mc.Source, "netD", mc.NetD); err != nil {
		return err
	}
	if mc.NetD.InDim == nil {
		return configErrorf(mc.Source, "netD.in_dim", "missing")
	}
	return nil
}

// ApplyDummyLF0 returns a copy of the configuration with all the lf0 fields of netG set to the
// Dummy* values. Values already in the configuration are overwritten: they describe the training
// features, not the synthetic batch the model is checked with.
func (mc *ModelConfig) ApplyDummyLF0() *ModelConfig {
	mc2 := mc.Clone()
	if mc2.NetG == nil {
		return mc2
	}
	net := mc2.NetG
	net.InLF0Idx = ptr(DummyInLF0Idx)
	net.InLF0Min = ptr(DummyInLF0Min)
	net.InLF0Max = ptr(DummyInLF0Max)
	net.OutLF0Idx = ptr(DummyOutLF0Idx)
	net.OutLF0Mean = ptr(DummyOutLF0Mean)
	net.OutLF0Scale = ptr(DummyOutLF0Scale)
	return mc2
}

func ptr[T any](value T) *T { return &value }

// Resolve returns a copy of the configuration where netG.out_dim is set explicitly when it is
// only implied by stream_sizes (netG's own or the top-level ones).
func (mc *ModelConfig) Resolve() *ModelConfig {
	mc2 := mc.Clone()
	if mc2.NetG == nil || mc2.NetG.OutDim != nil {
		return mc2
	}
	if dim := mc2.OutDim(); dim > 0 {
		mc2.NetG.OutDim = &dim
	}
	return mc2
}
