package catalog

import (
	"testing"

	"xcomlink/scom"
)

func TestLoad(t *testing.T) {
	ds, err := Load(Voltage240)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() == 0 {
		t.Fatal("empty dataset")
	}
}

func TestByNr(t *testing.T) {
	ds, err := Load(Voltage240)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("parameter", func(t *testing.T) {
		dp, err := ds.ByNr(1107, "xt")
		if err != nil {
			t.Fatalf("ByNr failed: %v", err)
		}
		if dp.ObjType() != scom.ObjTypeParameter {
			t.Errorf("obj type: got %d, want PARAMETER", dp.ObjType())
		}
		if dp.Format != scom.FormatFloat {
			t.Errorf("format: got %v, want FLOAT", dp.Format)
		}
		if dp.Unit != "Aac" {
			t.Errorf("unit: got %q, want Aac", dp.Unit)
		}
	})

	t.Run("info", func(t *testing.T) {
		dp, err := ds.ByNr(3000, "xt")
		if err != nil {
			t.Fatalf("ByNr failed: %v", err)
		}
		if dp.ObjType() != scom.ObjTypeInfo {
			t.Errorf("obj type: got %d, want INFO", dp.ObjType())
		}
	})

	t.Run("any family", func(t *testing.T) {
		if _, err := ds.ByNr(7002, ""); err != nil {
			t.Errorf("ByNr with empty family failed: %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := ds.ByNr(99999, "xt"); err == nil {
			t.Error("expected error for unknown nr")
		}
	})
}

func TestByName(t *testing.T) {
	ds, err := Load(Voltage240)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dp, err := ds.ByName("Charger allowed", "xt")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	if dp.Nr != 1125 {
		t.Errorf("nr: got %d, want 1125", dp.Nr)
	}

	if _, err := ds.ByName("No such datapoint", ""); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestVoltageOverrides(t *testing.T) {
	ds240, err := Load(Voltage240)
	if err != nil {
		t.Fatalf("Load 240 failed: %v", err)
	}
	ds120, err := Load(Voltage120)
	if err != nil {
		t.Fatalf("Load 120 failed: %v", err)
	}
	if ds240.Len() != ds120.Len() {
		t.Errorf("override must not change dataset size: %d vs %d", ds240.Len(), ds120.Len())
	}

	dp240, _ := ds240.ByNr(1107, "xt")
	dp120, _ := ds120.ByNr(1107, "xt")
	if dp240.Max == nil || dp120.Max == nil {
		t.Fatal("expected max bounds on 1107")
	}
	if *dp240.Max == *dp120.Max {
		t.Error("expected 120 Vac override to change bounds of 1107")
	}

	if _, err := Load(Voltage("500 Vac")); err == nil {
		t.Error("expected error for unknown voltage")
	}
}

func TestMenuItems(t *testing.T) {
	ds, err := Load(Voltage240)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	top := ds.MenuItems(0, "xt")
	if len(top) == 0 {
		t.Fatal("no top-level entries for xt")
	}

	basics := ds.MenuItems(1100, "xt")
	if len(basics) == 0 {
		t.Fatal("no entries under menu 1100")
	}
	for _, dp := range basics {
		if dp.Parent != 1100 {
			t.Errorf("entry %d has parent %d", dp.Nr, dp.Parent)
		}
	}
}

func TestMessages(t *testing.T) {
	set, err := LoadMessages("en")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}

	if got := set.StringByNr(1); got != "Battery too low, inverter off" {
		t.Errorf("StringByNr(1) = %q", got)
	}
	if got := set.StringByNr(9999); got != "(9999): unknown message" {
		t.Errorf("fallback: got %q", got)
	}

	if _, err := LoadMessages("xx"); err == nil {
		t.Error("expected error for unknown language")
	}
}
