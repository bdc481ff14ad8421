package snapshot

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const manifestFileName = "manifest.yaml"

// manifest is the sidecar index FileStore keeps alongside the raw
// snapshot files, recording which database names have been saved and
// the encoding version they were saved with - so List() never has to
// guess from directory contents.
type manifest struct {
	Version   string   `yaml:"version"`
	Databases []string `yaml:"databases"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &manifest{Version: formatVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version == "" {
		m.Version = formatVersion
	}
	return &m, nil
}

func (m *manifest) addDatabase(name string) {
	for _, n := range m.Databases {
		if n == name {
			return
		}
	}
	m.Databases = append(m.Databases, name)
	sort.Strings(m.Databases)
}

func saveManifest(path string, m *manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
