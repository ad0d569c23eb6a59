package component

import (
	"gopkg.in/yaml.v3"
)

// Manifests are declared in YAML alongside a component's WASM bytes (the
// same static-configuration idiom used for deployment
// manifests) and stored verbatim as their YAML encoding so a human can
// inspect what's in KVStore directly.
func encodeManifest(m Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

func decodeManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
