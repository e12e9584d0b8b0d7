package scom

import "strconv"

// Service identifiers.
const (
	ServiceRead  byte = 0x01
	ServiceWrite byte = 0x02
)

// Service flag bits carried in the frame's first byte.
const (
	flagError    byte = 0x01
	flagResponse byte = 0x02
)

// Object types.
const (
	ObjTypeInfo      uint16 = 0x0001
	ObjTypeParameter uint16 = 0x0002
	ObjTypeMessage   uint16 = 0x0003
	ObjTypeGuid      uint16 = 0x0004
	ObjTypeDatalog   uint16 = 0x0005
	ObjTypeMultiInfo uint16 = 0x000A
)

// Well-known object ids.
const (
	ObjIDNone      uint32 = 0x00000000
	ObjIDMultiInfo uint32 = 0x00000001
)

// Property ids (QSP ids).
const (
	PropIDNone         uint16 = 0x0000
	PropIDMultiInfo    uint16 = 0x0001
	PropIDValue        uint16 = 0x0005
	PropIDMin          uint16 = 0x0006
	PropIDMax          uint16 = 0x0007
	PropIDLevel        uint16 = 0x0008
	PropIDUnsavedValue uint16 = 0x000D
)

// Well-known bus addresses.
const (
	AddrBroadcast uint32 = 0
	AddrSource    uint32 = 1
	AddrRCC       uint32 = 501
)

// Aggregation selects which device(s) a multi-info item targets.
type Aggregation byte

const (
	AggrMaster   Aggregation = 0x00
	AggrDevice1  Aggregation = 0x01
	AggrDevice2  Aggregation = 0x02
	AggrDevice3  Aggregation = 0x03
	AggrDevice4  Aggregation = 0x04
	AggrDevice5  Aggregation = 0x05
	AggrDevice6  Aggregation = 0x06
	AggrDevice7  Aggregation = 0x07
	AggrDevice8  Aggregation = 0x08
	AggrDevice9  Aggregation = 0x09
	AggrDevice10 Aggregation = 0x0A
	AggrDevice11 Aggregation = 0x0B
	AggrDevice12 Aggregation = 0x0C
	AggrDevice13 Aggregation = 0x0D
	AggrDevice14 Aggregation = 0x0E
	AggrDevice15 Aggregation = 0x0F
	AggrAverage  Aggregation = 0xFD
	AggrSum      Aggregation = 0xFE
)

// String returns a short name for the aggregation type.
func (a Aggregation) String() string {
	switch {
	case a == AggrMaster:
		return "master"
	case a >= AggrDevice1 && a <= AggrDevice15:
		return "device" + strconv.Itoa(int(a))
	case a == AggrAverage:
		return "average"
	case a == AggrSum:
		return "sum"
	default:
		return "unknown"
	}
}

// Valid reports whether a is one of the defined aggregation values.
func (a Aggregation) Valid() bool {
	return a <= AggrDevice15 || a == AggrAverage || a == AggrSum
}

// Access levels attached to datapoints.
type Level uint16

const (
	LevelVO     Level = 0x0000
	LevelInfo   Level = 0x0001
	LevelBasic  Level = 0x0010
	LevelExpert Level = 0x0020
	LevelInst   Level = 0x0030
	LevelQSP    Level = 0x0040
)

// ParseLevel maps the textual level used by the datapoint catalog.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "INFO":
		return LevelInfo, true
	case "VO":
		return LevelVO, true
	case "BASIC":
		return LevelBasic, true
	case "EXPERT":
		return LevelExpert, true
	case "INST":
		return LevelInst, true
	case "QSP":
		return LevelQSP, true
	default:
		return 0, false
	}
}

func (l Level) String() string {
	switch l {
	case LevelVO:
		return "VO"
	case LevelInfo:
		return "INFO"
	case LevelBasic:
		return "BASIC"
	case LevelExpert:
		return "EXPERT"
	case LevelInst:
		return "INST"
	case LevelQSP:
		return "QSP"
	default:
		return "unknown"
	}
}

// MultiInfoReqMax is the maximum number of items in one multi-info request.
const MultiInfoReqMax = 76
