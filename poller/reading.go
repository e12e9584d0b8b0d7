package poller

import (
	"fmt"
	"strconv"
	"time"

	"xcomlink/catalog"
)

// Reading is one polled datapoint value, ready for publishing.
type Reading struct {
	Name        string      `json:"name"` // poll item label
	Nr          uint32      `json:"nr"`
	Family      string      `json:"family"`
	Device      string      `json:"device,omitempty"`
	Aggregation string      `json:"aggregation,omitempty"`
	Unit        string      `json:"unit,omitempty"`
	Format      string      `json:"format"`
	Value       interface{} `json:"value"`
	Text        string      `json:"text,omitempty"` // decoded enum label, if any
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// newReading fills the static fields of a reading from its poll entry.
func newReading(e pollEntry) Reading {
	return Reading{
		Name:        e.item.Name,
		Nr:          e.dp.Nr,
		Family:      e.dp.FamilyID,
		Device:      e.item.Device,
		Aggregation: e.item.Aggregation,
		Unit:        e.dp.Unit,
		Format:      string(e.dp.Format),
	}
}

// optionText decodes an enum value against the datapoint's option table.
// Values without an option table yield an empty string.
func optionText(dp catalog.Datapoint, value interface{}) string {
	if dp.Options == nil || value == nil {
		return ""
	}
	var key string
	switch v := value.(type) {
	case bool:
		if v {
			key = "1"
		} else {
			key = "0"
		}
	case uint16:
		key = strconv.FormatUint(uint64(v), 10)
	case uint32:
		key = strconv.FormatUint(uint64(v), 10)
	case int32:
		key = strconv.FormatInt(int64(v), 10)
	case float32:
		key = strconv.Itoa(int(v))
	default:
		return ""
	}
	return dp.Options[key]
}

// changed reports whether the new reading differs from the previous one.
// Readings compare by rendered value so float noise in unrelated fields
// (timestamps) does not count as a change.
func changed(old *Reading, next Reading) bool {
	if old == nil {
		return true
	}
	if (old.Error != "") != (next.Error != "") {
		return true
	}
	return fmt.Sprintf("%v", old.Value) != fmt.Sprintf("%v", next.Value)
}
