// internal/onboard/types.go
package onboard

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Timezone offset bounds in minutes from UTC (UTC-12:00 to UTC+14:00).
const (
	MinTimezoneMinutes = -12 * 60
	MaxTimezoneMinutes = 14 * 60
)

// TimezoneOffset is the stored display offset. It lives in its own flash
// block with a lifecycle independent from the credentials.
type TimezoneOffset struct {
	Minutes int32
}

// Valid reports whether the offset is inside the representable range.
func (o TimezoneOffset) Valid() bool {
	return o.Minutes >= MinTimezoneMinutes && o.Minutes <= MaxTimezoneMinutes
}

func (o *TimezoneOffset) MarshalBinary() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("timezone offset %d out of range", o.Minutes)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(o.Minutes))
	return buf, nil
}

func (o *TimezoneOffset) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return errors.New("timezone offset: bad payload length")
	}
	minutes := int32(binary.LittleEndian.Uint32(data))
	if minutes < MinTimezoneMinutes || minutes > MaxTimezoneMinutes {
		return fmt.Errorf("timezone offset %d out of range", minutes)
	}
	o.Minutes = minutes
	return nil
}

// Submission is the parsed captive-portal form: everything the device
// needs to leave setup mode.
type Submission struct {
	SSID                  string
	Password              string
	TimezoneOffsetMinutes int32
}
