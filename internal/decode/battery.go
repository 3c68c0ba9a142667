// v1
// internal/decode/battery.go

// Package decode handles the fixed-layout binary blob embedded in device
// payloads as a base64 "data" field.
package decode

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPayload reports a binary payload shorter than the fixed layout
// requires.
var ErrMalformedPayload = errors.New("malformed binary payload")

// BatteryStatus names derived from the top two bits of the first big-endian
// 16-bit word.
const (
	StatusUltraLow = "ULTRA_LOW"
	StatusLow      = "LOW"
	StatusOK       = "OK"
	StatusGood     = "GOOD"
)

// minPayloadLen is the fixed layout size: 2 bytes battery word, 2 bytes
// temperature, 2 bytes humidity.
const minPayloadLen = 6

// Decoded carries the quantities unpacked from one binary payload.
type Decoded struct {
	BatteryMv     int64
	BatteryStatus string
	Temperature   float64
	Humidity      float64
}

// Battery unpacks the raw bytes of one device payload. The first big-endian
// word holds a 2-bit status and a 14-bit voltage in millivolts, followed by a
// signed 16-bit temperature scaled by 1/100 and an unsigned 16-bit humidity
// scaled by 1/10. Inputs shorter than six bytes fail with ErrMalformedPayload.
func Battery(data []byte) (Decoded, error) {
	if len(data) < minPayloadLen {
		return Decoded{}, fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(data))
	}

	batRaw := uint16(data[0])<<8 | uint16(data[1])
	statusBits := (batRaw >> 14) & 0b11
	voltageMv := int64(batRaw & 0x3FFF)

	var status string
	switch statusBits {
	case 0b00:
		status = StatusUltraLow
	case 0b01:
		status = StatusLow
	case 0b10:
		status = StatusOK
	case 0b11:
		status = StatusGood
	}

	tempRaw := int16(uint16(data[2])<<8 | uint16(data[3]))
	humRaw := uint16(data[4])<<8 | uint16(data[5])

	return Decoded{
		BatteryMv:     voltageMv,
		BatteryStatus: status,
		Temperature:   float64(tempRaw) / 100.0,
		Humidity:      float64(humRaw) / 10.0,
	}, nil
}

// BatteryBase64 decodes the base64 text form carried on the wire before
// unpacking it.
func BatteryBase64(encoded string) (Decoded, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Battery(data)
}
