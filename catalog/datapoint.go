// Package catalog holds the Studer datapoint definitions (parameters and
// user infos per device family) and the RCC message texts. The definitions
// are embedded as JSON and loaded per system voltage.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"xcomlink/scom"
)

// Datapoint describes one parameter or user info of a device family.
type Datapoint struct {
	FamilyID string
	Level    scom.Level
	Parent   int // menu item this entry belongs to, 0 for top level
	Nr       uint32
	Name     string
	Abbr     string
	Unit     string
	Format   scom.Format
	Default  *float64
	Min      *float64
	Max      *float64
	Inc      *float64
	Options  map[string]string
}

// ObjType maps the datapoint's level to the scom object type used to
// address it: INFO level reads user infos, everything else is a parameter.
func (d Datapoint) ObjType() uint16 {
	switch d.Level {
	case scom.LevelInfo:
		return scom.ObjTypeInfo
	case scom.LevelBasic, scom.LevelExpert, scom.LevelInst, scom.LevelQSP:
		return scom.ObjTypeParameter
	default:
		return scom.ObjTypeInfo
	}
}

// IsParameter reports whether the datapoint is writable parameter storage.
func (d Datapoint) IsParameter() bool { return d.ObjType() == scom.ObjTypeParameter }

func (d Datapoint) String() string {
	return fmt.Sprintf("%s %d: %s [%s]", strings.ToUpper(d.FamilyID), d.Nr, d.Name, d.Format)
}

// rawDatapoint mirrors the JSON encoding of the embedded catalog files.
type rawDatapoint struct {
	Fam   string            `json:"fam"`
	Lvl   string            `json:"lvl"`
	Pnr   *int              `json:"pnr"`
	Nr    *uint32           `json:"nr"`
	Name  string            `json:"name"`
	Short string            `json:"short"`
	Unit  string            `json:"unit"`
	Fmt   string            `json:"fmt"`
	Def   json.RawMessage   `json:"def"`
	Min   json.RawMessage   `json:"min"`
	Max   json.RawMessage   `json:"max"`
	Inc   json.RawMessage   `json:"inc"`
	Opt   map[string]string `json:"opt"`
}

// datapoint converts a raw entry, returning false for incomplete entries.
func (r rawDatapoint) datapoint() (Datapoint, bool) {
	if r.Fam == "" || r.Lvl == "" || r.Nr == nil || r.Name == "" || r.Fmt == "" {
		return Datapoint{}, false
	}
	level, ok := scom.ParseLevel(r.Lvl)
	if !ok {
		return Datapoint{}, false
	}
	parent := 0
	if r.Pnr != nil {
		parent = *r.Pnr
	}
	return Datapoint{
		FamilyID: r.Fam,
		Level:    level,
		Parent:   parent,
		Nr:       *r.Nr,
		Name:     strings.TrimSpace(r.Name),
		Abbr:     r.Short,
		Unit:     r.Unit,
		Format:   scom.ParseFormat(r.Fmt),
		Default:  rawNumber(r.Def),
		Min:      rawNumber(r.Min),
		Max:      rawNumber(r.Max),
		Inc:      rawNumber(r.Inc),
		Options:  r.Opt,
	}, true
}

// rawNumber decodes an optional numeric bound. Non-numeric markers such as
// "S" (signal dependent) decode to nil.
func rawNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}
