package record

import "errors"

// Sentinel errors for the record codec and signer.
var (
	ErrMalformedNumber = errors.New("range endpoint is not a canonical +digits number")
	ErrMalformedKey    = errors.New("key PEM did not match the expected header")
	ErrMalformedSig    = errors.New("signature is not two base64 integers")
	ErrWrongKeyType    = errors.New("PEM block did not decode to a DSA key")
)
