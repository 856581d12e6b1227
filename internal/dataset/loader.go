package dataset

import (
	"encoding/json"
	"fmt"
	"os"
)

// sequenceFile is the on-disk shape of the sequence metadata export the
// annotation pipeline produces: one entry per sequence with its
// per-frame visibility flags.
type sequenceFile struct {
	Sequences []struct {
		Name    string `json:"name"`
		Visible []bool `json:"visible"`
	} `json:"sequences"`
}

// Load reads sequence metadata from a JSON file.
func Load(path string) (SliceDataset, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("sequence file does not exist at path: %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence file %q: %w", path, err)
	}

	var sf sequenceFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse sequence file %q: %w", path, err)
	}
	if len(sf.Sequences) == 0 {
		return nil, fmt.Errorf("no sequences found in %q", path)
	}

	ds := make(SliceDataset, 0, len(sf.Sequences))
	seen := make(map[string]bool, len(sf.Sequences))
	for _, s := range sf.Sequences {
		if s.Name == "" {
			return nil, fmt.Errorf("sequence with empty name in %q", path)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate sequence %q in %q", s.Name, path)
		}
		seen[s.Name] = true
		ds = append(ds, Sequence{Name: s.Name, Visible: s.Visible})
	}
	return ds, nil
}
