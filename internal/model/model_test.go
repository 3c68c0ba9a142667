// v0
// internal/model/model_test.go
package model

import (
	"testing"
	"time"
)

func TestSourceIDDeterministic(t *testing.T) {
	a := SourceID("t1", "l1", "QC", DeviceUnitScale, MetricWeight)
	b := SourceID("t1", "l1", "QC", DeviceUnitScale, MetricWeight)
	if a != b {
		t.Fatalf("expected identical ids, got %q vs %q", a, b)
	}
	if a != "t1:l1:QC:UNIT_SCALE:WEIGHT" {
		t.Fatalf("unexpected id %q", a)
	}
}

func TestSourceIDEscapesSeparator(t *testing.T) {
	shifted := SourceID("t:1", "l1", "", "", "")
	plain := SourceID("t", "1:l1", "", "", "")
	if shifted == plain {
		t.Fatalf("expected distinct ids for shifted fields, both %q", shifted)
	}
}

func TestNormalizeTimeFormats(t *testing.T) {
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	cases := []string{
		"2025-03-01T10:30:00Z",
		"2025-03-01T10:30:00.000Z",
		"2025-03-01 10:30:00",
		"1740825000000",
	}
	for _, raw := range cases {
		got, err := NormalizeTime(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
}

func TestNormalizeTimeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "yesterday", "2025-13-45"} {
		if _, err := NormalizeTime(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestGroupKeyRoundTrip(t *testing.T) {
	ev := CanonicalEvent{TenantID: "acme", LineID: "L3"}
	tenant, line := SplitGroupKey(ev.GroupKey())
	if tenant != "acme" || line != "L3" {
		t.Fatalf("round trip failed: %q %q", tenant, line)
	}
}
