package appstore

import "errors"

var (
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrPayloadMalformed = errors.New("payload_malformed")
)
