package xcom

import (
	"context"
	"encoding/binary"
	"fmt"

	"xcomlink/catalog"
	"xcomlink/family"
	"xcomlink/logging"
)

// DiscoveredDevice describes one Studer device found on the bus.
type DiscoveredDevice struct {
	Code        string `json:"code"`
	Addr        uint32 `json:"addr"`
	FamilyID    string `json:"family_id"`
	FamilyModel string `json:"family_model"`

	// Extended info, filled when requested.
	Model     string `json:"model,omitempty"`
	HWVersion string `json:"hw_version,omitempty"`
	SWVersion string `json:"sw_version,omitempty"`
	FID       string `json:"fid,omitempty"`
}

// Discover probes the bus for reachable devices.
type Discover struct {
	client  *Client
	dataset *catalog.Dataset
}

// NewDiscover creates a discovery helper on top of an established client.
func NewDiscover(client *Client, dataset *catalog.Dataset) *Discover {
	return &Discover{client: client, dataset: dataset}
}

// DiscoverDevices probes every family's device addresses with the family's
// discovery datapoint, stopping at the first unreachable address per
// family. With extended set, each found device is asked for its type and
// version infos as well.
func (d *Discover) DiscoverDevices(ctx context.Context, extended bool) ([]DiscoveredDevice, error) {
	var devices []DiscoveredDevice

	for _, fam := range family.List() {
		if err := ctx.Err(); err != nil {
			return devices, err
		}

		dp, err := d.dataset.ByNr(fam.NrDiscover, fam.IDForNr)
		if err != nil {
			logging.DebugLog("discover", "family %s: no discovery datapoint %d", fam.ID, fam.NrDiscover)
			continue
		}

		for addr := fam.AddrStart; addr <= fam.AddrEnd; addr++ {
			code, err := fam.Code(addr)
			if err != nil {
				break
			}

			logging.DebugLog("discover", "trying %s on addr %d via info %d", code, addr, dp.Nr)
			if _, err := d.client.RequestValue(ctx, dp, DstAddr(addr)); err != nil {
				// The device is absent, or does not support the probe
				// datapoint (distinguishes BSP from BMS). Later addresses
				// in the family cannot respond either.
				logging.DebugLog("discover", "no device %s: %v", code, err)
				break
			}

			dev := DiscoveredDevice{
				Code:        code,
				Addr:        addr,
				FamilyID:    fam.ID,
				FamilyModel: fam.Model,
			}
			if extended {
				d.extendedInfo(ctx, fam, &dev)
			}
			logging.DebugLog("discover", "found %s at addr %d", code, addr)
			devices = append(devices, dev)
		}
	}

	return devices, nil
}

// extendedInfo fills the device's model and version fields from its ID
// infos. Not every device carries these, so missing values are skipped
// silently.
func (d *Discover) extendedInfo(ctx context.Context, fam family.Family, dev *DiscoveredDevice) {
	idType := d.valueByName(ctx, "ID type", fam.IDForNr, dev.Addr)
	idHW := d.valueByName(ctx, "ID HW", fam.IDForNr, dev.Addr)
	idHWPwr := d.valueByName(ctx, "ID HW PWR", fam.IDForNr, dev.Addr)
	idSWMsb := d.valueByName(ctx, "ID SOFT msb", fam.IDForNr, dev.Addr)
	idSWLsb := d.valueByName(ctx, "ID SOFT lsb", fam.IDForNr, dev.Addr)
	idFIDMsb := d.valueByName(ctx, "ID FID msb", fam.IDForNr, dev.Addr)
	idFIDLsb := d.valueByName(ctx, "ID FID lsb", fam.IDForNr, dev.Addr)

	dev.Model = d.decodeType(idType, fam.IDForNr)
	dev.HWVersion = decodeIDHW(idHW, idHWPwr)
	dev.SWVersion = decodeIDSW(idSWMsb, idSWLsb)
	dev.FID = decodeFID(idFIDMsb, idFIDLsb)
}

// valueByName reads a named datapoint as a float, returning nil when the
// datapoint is unknown or the device does not answer.
func (d *Discover) valueByName(ctx context.Context, name, familyID string, addr uint32) *float64 {
	dp, err := d.dataset.ByName(name, familyID)
	if err != nil {
		return nil
	}
	value, err := d.client.RequestValue(ctx, dp, DstAddr(addr))
	if err != nil {
		return nil
	}
	f, ok := value.(float32)
	if !ok {
		return nil
	}
	out := float64(f)
	return &out
}

// decodeType maps the numeric ID type onto the catalog's option table.
func (d *Discover) decodeType(val *float64, familyID string) string {
	if val == nil {
		return ""
	}
	dp, err := d.dataset.ByName("ID type", familyID)
	if err != nil || dp.Options == nil {
		return ""
	}
	return dp.Options[fmt.Sprintf("%d", int(*val))]
}

// decodeIDHW renders the hardware version, optionally with the power stage
// revision.
func decodeIDHW(cmd, pwr *float64) string {
	if cmd == nil {
		return ""
	}
	c := uint16be(*cmd)
	if pwr == nil {
		return fmt.Sprintf("%d.%d", c[0], c[1])
	}
	p := uint16be(*pwr)
	return fmt.Sprintf("%d.%d / %d.%d", c[0], c[1], p[0], p[1])
}

// decodeIDSW renders the software version from its msb/lsb info pair.
func decodeIDSW(msb, lsb *float64) string {
	if msb == nil || lsb == nil {
		return ""
	}
	m := uint16be(*msb)
	l := uint16be(*lsb)
	return fmt.Sprintf("%d.%d.%d", m[0], l[0], l[1])
}

// decodeFID renders the factory id as uppercase hex.
func decodeFID(msb, lsb *float64) string {
	if msb == nil || lsb == nil {
		return ""
	}
	m := uint16be(*msb)
	l := uint16be(*lsb)
	return fmt.Sprintf("%02X%02X%02X%02X", m[0], m[1], l[0], l[1])
}

func uint16be(val float64) [2]byte {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], uint16(val))
	return out
}
