package scom

import (
	"math"
	"testing"
)

func TestPackUnpackLengths(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		format Format
		length int
	}{
		{"bool", true, FormatBool, 1},
		{"short enum", uint16(2), FormatShortEnum, 2},
		{"error", uint16(0x2A), FormatError, 2},
		{"int32", int32(-1234), FormatInt32, 4},
		{"long enum", uint32(7), FormatLongEnum, 4},
		{"float", float32(3.14), FormatFloat, 4},
		{"guid", "12345678-9abc-def0-1234-56789abcdef0", FormatGuid, 16},
		{"string", "hello", FormatString, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Pack(tc.value, tc.format)
			if err != nil {
				t.Fatalf("Pack failed: %v", err)
			}
			if len(data) != tc.length {
				t.Fatalf("packed length: got %d, want %d", len(data), tc.length)
			}

			got, err := Unpack(data, tc.format)
			if err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}

			switch want := tc.value.(type) {
			case float32:
				if f, ok := got.(float32); !ok || math.Abs(float64(f-want)) > 0.01 {
					t.Errorf("roundtrip: got %v, want %v", got, want)
				}
			default:
				if got != tc.value {
					t.Errorf("roundtrip: got %v (%T), want %v (%T)", got, got, tc.value, tc.value)
				}
			}
		})
	}
}

func TestUnpackWrongLength(t *testing.T) {
	if _, err := Unpack([]byte{1, 2, 3}, FormatFloat); err == nil {
		t.Error("expected error for 3-byte FLOAT payload")
	}
	if _, err := Unpack([]byte{1, 2}, FormatBool); err == nil {
		t.Error("expected error for 2-byte BOOL payload")
	}
}

func TestCast(t *testing.T) {
	tests := []struct {
		name   string
		value  float32
		format Format
		want   interface{}
	}{
		{"bool true", 1, FormatBool, true},
		{"bool false", 0, FormatBool, false},
		{"short enum", 4, FormatShortEnum, uint16(4)},
		{"int32", -17, FormatInt32, int32(-17)},
		{"long enum", 9, FormatLongEnum, uint32(9)},
		{"float", 2.5, FormatFloat, float32(2.5)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Cast(tc.value, tc.format)
			if err != nil {
				t.Fatalf("Cast failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Cast(%v, %s) = %v (%T), want %v (%T)", tc.value, tc.format, got, got, tc.want, tc.want)
			}
		})
	}

	if _, err := Cast(1, FormatGuid); err == nil {
		t.Error("expected error casting to GUID")
	}
}

func TestGuidRoundtrip(t *testing.T) {
	const guid = "a0b1c2d3-e4f5-0617-2839-4a5b6c7d8e9f"

	data, err := Pack(guid, FormatGuid)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got, err := Unpack(data, FormatGuid)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if got != guid {
		t.Errorf("roundtrip: got %v, want %v", got, guid)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"FLOAT", FormatFloat},
		{"SHORT ENUM", FormatShortEnum},
		{"LONG_ENUM", FormatLongEnum},
		{"ONLY LEVEL", FormatMenu},
		{"bogus", FormatInvalid},
	}
	for _, tc := range tests {
		if got := ParseFormat(tc.in); got != tc.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMultiInfoRoundtrip(t *testing.T) {
	req := MultiInfoReq{Items: []MultiInfoReqItem{
		{UserInfoRef: 3000, Aggregation: AggrDevice1},
		{UserInfoRef: 3023, Aggregation: AggrAverage},
	}}

	data, err := req.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(data) != 6 {
		t.Fatalf("packed length: got %d, want 6", len(data))
	}

	got := UnpackMultiInfoReq(data)
	if len(got.Items) != 2 || got.Items[1].UserInfoRef != 3023 || got.Items[1].Aggregation != AggrAverage {
		t.Errorf("roundtrip mismatch: %+v", got.Items)
	}

	rsp := MultiInfoRsp{
		Flags:    1,
		Datetime: 1700000000,
		Items: []MultiInfoRspItem{
			{UserInfoRef: 3000, Aggregation: AggrDevice1, Value: 230.5},
			{UserInfoRef: 3023, Aggregation: AggrAverage, Value: -1.25},
		},
	}
	gotRsp, err := UnpackMultiInfoRsp(rsp.Pack())
	if err != nil {
		t.Fatalf("UnpackMultiInfoRsp failed: %v", err)
	}
	if gotRsp.Datetime != rsp.Datetime || len(gotRsp.Items) != 2 {
		t.Fatalf("response mismatch: %+v", gotRsp)
	}
	if gotRsp.Items[0].Value != 230.5 || gotRsp.Items[1].Value != -1.25 {
		t.Errorf("values: %+v", gotRsp.Items)
	}
}

func TestMultiInfoReqLimit(t *testing.T) {
	items := make([]MultiInfoReqItem, MultiInfoReqMax+1)
	if _, err := (MultiInfoReq{Items: items}).Pack(); err == nil {
		t.Errorf("expected error for %d items", MultiInfoReqMax+1)
	}
	if _, err := (MultiInfoReq{}).Pack(); err == nil {
		t.Error("expected error for empty request")
	}
}

func TestMessageRspRoundtrip(t *testing.T) {
	msg := MessageRsp{
		Total:      10,
		Number:     1,
		SourceAddr: 101,
		Timestamp:  1700000000,
		Value:      1234,
	}

	got, err := UnpackMessageRsp(msg.Pack())
	if err != nil {
		t.Fatalf("UnpackMessageRsp failed: %v", err)
	}
	if got != msg {
		t.Errorf("roundtrip: got %+v, want %+v", got, msg)
	}

	if _, err := UnpackMessageRsp(msg.Pack()[:10]); err == nil {
		t.Error("expected error for truncated payload")
	}
}
