// v0
// internal/decode/battery_test.go
package decode

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestBatteryKnownVector(t *testing.T) {
	d, err := Battery([]byte{0x80, 0x00, 0x07, 0xD0, 0x00, 0x64})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if d.BatteryStatus != StatusOK {
		t.Fatalf("expected status OK, got %s", d.BatteryStatus)
	}
	if d.BatteryMv != 0 {
		t.Fatalf("expected 0 mV, got %d", d.BatteryMv)
	}
	if d.Temperature != 20.0 {
		t.Fatalf("expected 20.0, got %v", d.Temperature)
	}
	if d.Humidity != 10.0 {
		t.Fatalf("expected 10.0, got %v", d.Humidity)
	}
}

func TestBatteryStatusBits(t *testing.T) {
	cases := []struct {
		first byte
		want  string
	}{
		{0x00, StatusUltraLow},
		{0x40, StatusLow},
		{0x80, StatusOK},
		{0xC0, StatusGood},
	}
	for _, tc := range cases {
		d, err := Battery([]byte{tc.first, 0x00, 0x00, 0x00, 0x00, 0x00})
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if d.BatteryStatus != tc.want {
			t.Fatalf("first byte %#x: expected %s, got %s", tc.first, tc.want, d.BatteryStatus)
		}
	}
}

func TestBatteryVoltageMasksStatusBits(t *testing.T) {
	d, err := Battery([]byte{0xCF, 0xFF, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if d.BatteryMv != 0x3FFF {
		t.Fatalf("expected %d mV, got %d", 0x3FFF, d.BatteryMv)
	}
}

func TestBatteryNegativeTemperature(t *testing.T) {
	// int16 -550 => -5.5 degrees.
	d, err := Battery([]byte{0x00, 0x00, 0xFD, 0xDA, 0x00, 0x00})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if d.Temperature != -5.5 {
		t.Fatalf("expected -5.5, got %v", d.Temperature)
	}
}

func TestBatteryShortPayloads(t *testing.T) {
	for n := 0; n < 6; n++ {
		_, err := Battery(make([]byte, n))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("length %d: expected ErrMalformedPayload, got %v", n, err)
		}
	}
}

func TestBatteryBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte{0x80, 0x00, 0x07, 0xD0, 0x00, 0x64})
	d, err := BatteryBase64(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if d.Temperature != 20.0 || d.Humidity != 10.0 {
		t.Fatalf("unexpected decode %+v", d)
	}

	if _, err := BatteryBase64("%%%not-base64"); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for invalid base64, got %v", err)
	}
}
