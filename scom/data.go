package scom

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Format describes how a property value is encoded on the wire.
type Format string

const (
	FormatBool      Format = "BOOL"       // 1 byte
	FormatFormat    Format = "FORMAT"     // 2 bytes, unsigned
	FormatShortEnum Format = "SHORT_ENUM" // 2 bytes, unsigned
	FormatError     Format = "ERROR"      // 2 bytes, unsigned
	FormatInt32     Format = "INT32"      // 4 bytes, signed
	FormatFloat     Format = "FLOAT"      // 4 bytes, IEEE 754
	FormatLongEnum  Format = "LONG_ENUM"  // 4 bytes, unsigned
	FormatGuid      Format = "GUID"       // 16 bytes
	FormatString    Format = "STRING"     // n bytes, ISO-8859-15
	FormatDynamic   Format = "DYNAMIC"    // n bytes
	FormatBytes     Format = "BYTES"      // n bytes
	FormatMenu      Format = "MENU"       // not a value
	FormatInvalid   Format = "INVALID"
)

// ParseFormat maps the textual format names used by the datapoint catalog.
func ParseFormat(s string) Format {
	switch strings.ToUpper(s) {
	case "BOOL":
		return FormatBool
	case "FORMAT":
		return FormatFormat
	case "SHORT_ENUM", "SHORT ENUM":
		return FormatShortEnum
	case "ERROR":
		return FormatError
	case "INT32":
		return FormatInt32
	case "FLOAT":
		return FormatFloat
	case "LONG_ENUM", "LONG ENUM":
		return FormatLongEnum
	case "GUID":
		return FormatGuid
	case "STRING":
		return FormatString
	case "DYNAMIC":
		return FormatDynamic
	case "BYTES":
		return FormatBytes
	case "MENU", "ONLY_LEVEL", "ONLY LEVEL":
		return FormatMenu
	default:
		return FormatInvalid
	}
}

// Unpack decodes a property payload according to format. The returned value
// is bool, uint16, int32, uint32, float32 or string depending on format.
func Unpack(data []byte, format Format) (interface{}, error) {
	switch format {
	case FormatBool:
		if len(data) != 1 {
			return nil, fmt.Errorf("Unpack: BOOL needs 1 byte, have %d", len(data))
		}
		return data[0] != 0, nil
	case FormatFormat, FormatShortEnum, FormatError:
		if len(data) != 2 {
			return nil, fmt.Errorf("Unpack: %s needs 2 bytes, have %d", format, len(data))
		}
		return binary.LittleEndian.Uint16(data), nil
	case FormatInt32:
		if len(data) != 4 {
			return nil, fmt.Errorf("Unpack: INT32 needs 4 bytes, have %d", len(data))
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case FormatLongEnum:
		if len(data) != 4 {
			return nil, fmt.Errorf("Unpack: LONG_ENUM needs 4 bytes, have %d", len(data))
		}
		return binary.LittleEndian.Uint32(data), nil
	case FormatFloat:
		if len(data) != 4 {
			return nil, fmt.Errorf("Unpack: FLOAT needs 4 bytes, have %d", len(data))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case FormatGuid:
		if len(data) != 16 {
			return nil, fmt.Errorf("Unpack: GUID needs 16 bytes, have %d", len(data))
		}
		return guidToString(data), nil
	case FormatString:
		s, err := charmap.ISO8859_15.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("Unpack: %w", err)
		}
		return string(s), nil
	default:
		return nil, fmt.Errorf("Unpack: unsupported format %q", format)
	}
}

// Pack encodes a property value according to format.
func Pack(value interface{}, format Format) ([]byte, error) {
	switch format {
	case FormatBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("Pack: BOOL needs bool, have %T", value)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case FormatFormat, FormatShortEnum, FormatError:
		n, err := toUint64(value)
		if err != nil {
			return nil, fmt.Errorf("Pack: %s: %w", format, err)
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(n))
		return out, nil
	case FormatInt32:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("Pack: INT32: %w", err)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(int32(n)))
		return out, nil
	case FormatLongEnum:
		n, err := toUint64(value)
		if err != nil {
			return nil, fmt.Errorf("Pack: LONG_ENUM: %w", err)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(n))
		return out, nil
	case FormatFloat:
		f, err := toFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("Pack: FLOAT: %w", err)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil
	case FormatGuid:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("Pack: GUID needs string, have %T", value)
		}
		return guidToBytes(s)
	case FormatString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("Pack: STRING needs string, have %T", value)
		}
		out, err := charmap.ISO8859_15.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("Pack: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("Pack: unsupported format %q", format)
	}
}

// Cast coerces a float payload into the logical format. Multi-info responses
// always carry floats regardless of the datapoint's declared format.
func Cast(value float32, format Format) (interface{}, error) {
	switch format {
	case FormatBool:
		return value != 0, nil
	case FormatFormat, FormatShortEnum, FormatError:
		return uint16(value), nil
	case FormatInt32:
		return int32(value), nil
	case FormatLongEnum:
		return uint32(value), nil
	case FormatFloat:
		return value, nil
	default:
		return nil, fmt.Errorf("Cast: unsupported format %q", format)
	}
}

// guidToString renders a 16-byte little-endian GUID as a UUID string.
func guidToString(data []byte) string {
	// The wire carries the GUID as a little-endian 128-bit integer.
	be := make([]byte, 16)
	for i := range data {
		be[15-i] = data[i]
	}
	h := hex.EncodeToString(be)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// guidToBytes parses a UUID string into its 16-byte little-endian wire form.
func guidToBytes(s string) ([]byte, error) {
	h := strings.ReplaceAll(strings.ToLower(s), "-", "")
	be, err := hex.DecodeString(h)
	if err != nil || len(be) != 16 {
		return nil, fmt.Errorf("guidToBytes: invalid GUID %q", s)
	}
	le := make([]byte, 16)
	for i := range be {
		le[15-i] = be[i]
	}
	return le, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("not a numeric value: %T", value)
	}
}

func toUint64(value interface{}) (uint64, error) {
	n, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return uint64(n), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}
