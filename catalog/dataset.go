package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Voltage selects which datapoint bounds apply to the installation.
type Voltage string

const (
	Voltage120 Voltage = "120 Vac"
	Voltage240 Voltage = "240 Vac"
)

//go:embed data/datapoints_240v.json
var datapoints240v []byte

//go:embed data/datapoints_120v.json
var datapoints120v []byte

// Dataset is an immutable collection of datapoint definitions.
type Dataset struct {
	datapoints []Datapoint
}

// Load builds the dataset for the given system voltage. The 240 Vac list is
// the base; for 120 Vac installations matching entries are replaced in
// place, keeping the menu ordering intact.
func Load(voltage Voltage) (*Dataset, error) {
	base, err := decodeDatapoints(datapoints240v)
	if err != nil {
		return nil, fmt.Errorf("Load: base dataset: %w", err)
	}

	switch voltage {
	case Voltage240:
		// Base list applies as-is.
	case Voltage120:
		overrides, err := decodeDatapoints(datapoints120v)
		if err != nil {
			return nil, fmt.Errorf("Load: 120 Vac overrides: %w", err)
		}
		for _, o := range overrides {
			for i, dp := range base {
				if dp.Nr == o.Nr && dp.FamilyID == o.FamilyID {
					base[i] = o
					break
				}
			}
		}
	default:
		return nil, fmt.Errorf("Load: unknown voltage %q", voltage)
	}

	return &Dataset{datapoints: base}, nil
}

func decodeDatapoints(data []byte) ([]Datapoint, error) {
	var raw []rawDatapoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Datapoint, 0, len(raw))
	for _, r := range raw {
		if dp, ok := r.datapoint(); ok {
			out = append(out, dp)
		}
	}
	return out, nil
}

// Len returns the number of datapoints in the set.
func (s *Dataset) Len() int { return len(s.datapoints) }

// ByNr finds a datapoint by number. An empty familyID matches any family.
func (s *Dataset) ByNr(nr uint32, familyID string) (Datapoint, error) {
	for _, dp := range s.datapoints {
		if dp.Nr == nr && (familyID == "" || dp.FamilyID == familyID) {
			return dp, nil
		}
	}
	return Datapoint{}, fmt.Errorf("ByNr: unknown datapoint %d (family %q)", nr, familyID)
}

// ByName finds a datapoint by its full name. An empty familyID matches any
// family.
func (s *Dataset) ByName(name, familyID string) (Datapoint, error) {
	for _, dp := range s.datapoints {
		if dp.Name == name && (familyID == "" || dp.FamilyID == familyID) {
			return dp, nil
		}
	}
	return Datapoint{}, fmt.Errorf("ByName: unknown datapoint %q (family %q)", name, familyID)
}

// MenuItems returns the datapoints directly under a menu entry; parent 0
// lists the top-level menus.
func (s *Dataset) MenuItems(parent int, familyID string) []Datapoint {
	var out []Datapoint
	for _, dp := range s.datapoints {
		if dp.Parent == parent && (familyID == "" || dp.FamilyID == familyID) {
			out = append(out, dp)
		}
	}
	return out
}
