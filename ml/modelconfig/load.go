package modelconfig

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// ConfigError is returned when a configuration is malformed or misses a required field.
// It is always raised before any model or tensor is created.
type ConfigError struct {
	// Source of the configuration, usually the file path.
	Source string

	// Field is the dotted path of the offending field (e.g. "netG.out_dim"), empty if the
	// whole file is malformed.
	Field string

	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config %q: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("config %q: field %s: %s", e.Source, e.Field, e.Reason)
}

func configErrorf(source, field, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads and parses the YAML model configuration in filePath.
//
// I/O failures are returned as regular errors, malformed contents as *ConfigError.
func Load(filePath string) (*ModelConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model configuration %q", filePath)
	}
	return Parse(data, filePath)
}

// Parse parses the YAML model configuration in data. source identifies the configuration in
// error messages.
func Parse(data []byte, source string) (*ModelConfig, error) {
	mc := &ModelConfig{}
	if err := yaml.Unmarshal(data, mc); err != nil {
		return nil, &ConfigError{Source: source, Reason: fmt.Sprintf("malformed YAML: %v", err)}
	}
	mc.Source = source
	if mc.NetG == nil && mc.NetD == nil && len(mc.Extra) == 0 && len(mc.StreamSizes) == 0 {
		return nil, configErrorf(source, "", "empty configuration")
	}
	for ii, net := range []*NetConfig{mc.NetG, mc.NetD} {
		if net == nil {
			continue
		}
		if keys := net.ExtraKeys(); len(keys) > 0 {
			klog.V(1).Infof("config %q: %s keys not used by the shape checker: %v", source, []string{"netG", "netD"}[ii], keys)
		}
	}
	return mc, nil
}
