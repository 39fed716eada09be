// Package codec encodes stored records as deterministic CBOR.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal records produce equal
// bytes. Timestamps keep nanosecond precision; the default unix-seconds
// form would truncate them and break equality checks on deletion stamps.
var encMode cbor.EncMode

// decMode ignores unknown fields so older binaries can read newer records.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
