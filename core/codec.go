package core

import (
	"github.com/fxamacker/cbor/v2"
)

// Agile handles are encoded with CBOR Core Deterministic Encoding so the
// same handle always produces identical bytes.
var (
	handleEncMode cbor.EncMode
	handleDecMode cbor.DecMode
)

func init() {
	var err error

	handleEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("core: CBOR encoder initialization failed: " + err.Error())
	}

	handleDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("core: CBOR decoder initialization failed: " + err.Error())
	}
}
