package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyRemote   = "remote"
	keyCache    = "cache"
	keyQueryMap = "querymap"
	keyCmdAlias = "cmdalias"
	keyLogging  = "logging"
)

// knownTopLevelKeys lists the YAML keys that correspond to exported Config fields.
// Keys not in this list are silently ignored during merge.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var knownTopLevelKeys = map[string]bool{
	keyRemote:   true,
	keyCache:    true,
	keyQueryMap: true,
	keyCmdAlias: true,
	keyLogging:  true,
}

// ShallowMergeYAML loads a YAML file and merges its top-level keys onto
// the target Config. Keys present in the overlay replace entire sections
// in the target, except querymap and cmdalias, whose entries are added to
// the built-in ones, and logging, which is merged field by field. Keys
// absent in the overlay are left unchanged.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", overlayPath, err)
	}

	// Discover which top-level keys are present in the overlay.
	var overlay map[string]interface{}
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config YAML from %s: %w", overlayPath, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(overlay) == 0 {
		return nil
	}

	for key, value := range overlay {
		if !knownTopLevelKeys[key] {
			continue
		}

		// Re-marshal the single section so we can unmarshal it onto the
		// strongly-typed target field.
		sectionBytes, marshalErr := yaml.Marshal(value)
		if marshalErr != nil {
			return fmt.Errorf("re-marshalling config section %q: %w", key, marshalErr)
		}

		if err = unmarshalSection(target, key, sectionBytes); err != nil {
			return fmt.Errorf("applying config section %q: %w", key, err)
		}
	}

	return nil
}

// unmarshalSection unmarshals raw YAML bytes into the correct field of target
// based on the given key name. Remote and cache are unmarshalled into a
// fresh zero-value so the file fully replaces the default.
func unmarshalSection(target *Config, key string, data []byte) error {
	switch key {
	case keyRemote:
		var v string
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Remote = v
		return nil
	case keyCache:
		var v CacheConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Cache = v
		return nil
	case keyQueryMap:
		var v map[string]string
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		if target.QueryMap == nil {
			target.QueryMap = make(map[string]string, len(v))
		}
		for name, expansion := range v {
			target.QueryMap[name] = expansion
		}
		return nil
	case keyCmdAlias:
		var v map[string]AliasConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		if target.CmdAlias == nil {
			target.CmdAlias = make(map[string]AliasConfig, len(v))
		}
		for name, alias := range v {
			target.CmdAlias[name] = alias
		}
		return nil
	case keyLogging:
		// Fields the file leaves out keep their defaults.
		v := target.Logging
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Logging = v
		return nil
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
}
