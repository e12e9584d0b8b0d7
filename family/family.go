// Package family defines the Xcom device families and the lookups between
// device codes (XT1, VT15, BSP), bus addresses and aggregation types.
package family

import (
	"fmt"
	"strings"

	"xcomlink/scom"
)

// Family describes one device family on the Xcom bus.
type Family struct {
	ID            string // short lowercase id, e.g. "xt"
	IDForNr       string // family whose datapoint numbers apply (L1-L3 use xt numbers)
	Model         string
	AddrMulticast uint32 // multicast address, write only
	AddrStart     uint32 // first device address
	AddrEnd       uint32 // last device address
	NrParamsStart uint32
	NrParamsEnd   uint32
	NrInfosStart  uint32
	NrInfosEnd    uint32
	NrDiscover    uint32 // info nr probed during device discovery
}

// All families, in discovery order.
var families = []Family{
	{"xt", "xt", "Xtender", 100, 101, 109, 1000, 1999, 3000, 3999, 3000},
	{"l1", "xt", "Phase L1", 191, 191, 191, 1000, 1999, 3000, 3999, 3000},
	{"l2", "xt", "Phase L2", 192, 192, 192, 1000, 1999, 3000, 3999, 3000},
	{"l3", "xt", "Phase L3", 193, 193, 193, 1000, 1999, 3000, 3999, 3000},
	{"rcc", "rcc", "RCC", 500, 501, 501, 5000, 5999, 0, 0, 5002},
	{"bsp", "bsp", "BSP", 600, 601, 601, 6000, 6999, 7000, 7999, 7036},
	{"bms", "bms", "Xcom-CAN BMS", 600, 601, 601, 6000, 6999, 7000, 7999, 7054},
	{"vt", "vt", "VarioTrack", 300, 301, 315, 10000, 10999, 11000, 11999, 11000},
	{"vs", "vs", "VarioString", 700, 701, 715, 14000, 14999, 15000, 15999, 15000},
}

// Lookup maps derived from the family table. Built once at package init and
// never mutated afterwards.
var (
	byID         = map[string]Family{}
	codeToFamily = map[string]Family{}
	codeToAddr   = map[string]uint32{}
	codeToAggr   = map[string]scom.Aggregation{}
	addrToAggr   = map[uint32]scom.Aggregation{}
)

func init() {
	for _, f := range families {
		byID[f.ID] = f
		for addr := f.AddrStart; addr <= f.AddrEnd; addr++ {
			code, _ := f.Code(addr)
			aggr := scom.Aggregation(addr - f.AddrStart + 1)
			codeToFamily[code] = f
			codeToAddr[code] = addr // XT1-XT9 -> 101-109, VT1-VT15 -> 301-315
			codeToAggr[code] = aggr // XT1-XT9 -> 1-9, VT1-VT15 -> 1-15
			addrToAggr[addr] = aggr
		}
		if f.AddrStart != f.AddrEnd {
			// Bare family code addresses the master device.
			codeToAggr[strings.ToUpper(f.ID)] = scom.AggrMaster
		}
	}
}

// List returns all known families.
func List() []Family {
	out := make([]Family, len(families))
	copy(out, families)
	return out
}

// ByID looks up a family by its short id.
func ByID(id string) (Family, error) {
	f, ok := byID[strings.ToLower(id)]
	if !ok {
		return Family{}, fmt.Errorf("ByID: unknown family %q", id)
	}
	return f, nil
}

// Code returns the device code for a bus address within this family.
// The multicast address and single-device families map to the bare family
// code; device ranges get a 1-based index suffix.
func (f Family) Code(addr uint32) (string, error) {
	code := strings.ToUpper(f.ID)
	if addr == f.AddrMulticast {
		return code, nil
	}
	if f.AddrStart == addr && addr == f.AddrEnd {
		return code, nil
	}
	if f.AddrStart <= addr && addr <= f.AddrEnd {
		return fmt.Sprintf("%s%d", code, addr-f.AddrStart+1), nil
	}
	return "", fmt.Errorf("Code: addr %d not in range for family %s (%d-%d)", addr, f.ID, f.AddrStart, f.AddrEnd)
}

// ByCode looks up the family owning a device code such as "XT3" or "BSP".
func ByCode(code string) (Family, error) {
	f, ok := codeToFamily[strings.ToUpper(code)]
	if !ok {
		return Family{}, fmt.Errorf("ByCode: unknown device code %q", code)
	}
	return f, nil
}

// AddrByCode resolves a device code to its bus address.
func AddrByCode(code string) (uint32, error) {
	addr, ok := codeToAddr[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("AddrByCode: unknown device code %q", code)
	}
	return addr, nil
}

// AggregationByCode resolves a device code to its aggregation type. A bare
// family code with a device range (XT, VT, VS) selects the master device.
func AggregationByCode(code string) (scom.Aggregation, error) {
	aggr, ok := codeToAggr[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("AggregationByCode: unknown device code %q", code)
	}
	return aggr, nil
}

// AggregationByAddr resolves a device bus address to its aggregation type.
// Addr 601 can be BMS or BSP; both yield aggregation 1.
func AggregationByAddr(addr uint32) (scom.Aggregation, error) {
	aggr, ok := addrToAggr[addr]
	if !ok {
		return 0, fmt.Errorf("AggregationByAddr: unknown device addr %d", addr)
	}
	return aggr, nil
}
