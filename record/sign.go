package record

import (
	"crypto/dsa"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // wire-mandated: the original signer hashes with SHA-1
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// GenerateKeyPair creates a new 1024-bit DSA key pair, the equivalent of
// crypto.py's generate_dsa_key_pair. Intended for test fixtures and
// owner onboarding tooling, not for the hot signing path.
func GenerateKeyPair() (*dsa.PrivateKey, error) {
	var params dsa.Parameters
	if err := dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160); err != nil {
		return nil, err
	}
	priv := &dsa.PrivateKey{PublicKey: dsa.PublicKey{Parameters: params}}
	if err := dsa.GenerateKey(priv, rand.Reader); err != nil {
		return nil, err
	}
	return priv, nil
}

// Sign produces a detached DSA signature over the canonical CSV form of
// (start,end,sip,owner,mdate), SHA-1 digested, encoded as two base64
// integers separated by a space — "<base64 r> <base64 s>".
func Sign(priv *dsa.PrivateKey, start, end, sip, owner string, mdate time.Time) (string, error) {
	msg, err := CanonicalCSV(start, end, sip, owner, mdate)
	if err != nil {
		return "", err
	}
	digest := sha1.Sum(msg) //nolint:gosec
	r, s, err := dsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return "", err
	}
	return encodeSig(r, s), nil
}

func encodeSig(r, s *big.Int) string {
	return fmt.Sprintf("%s %s",
		base64.StdEncoding.EncodeToString(r.Bytes()),
		base64.StdEncoding.EncodeToString(s.Bytes()))
}

func decodeSig(sig string) (*big.Int, *big.Int, error) {
	parts := strings.Fields(sig)
	if len(parts) != 2 {
		return nil, nil, ErrMalformedSig
	}
	rb, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedSig, err)
	}
	sb, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedSig, err)
	}
	return new(big.Int).SetBytes(rb), new(big.Int).SetBytes(sb), nil
}

// Verify recomputes the digest and checks sig against pub. A malformed
// sig (bad base64, wrong arity) returns false rather than an error —
// verification never raises, it only ever answers bool.
func Verify(pub *dsa.PublicKey, sig, start, end, sip, owner string, mdate time.Time) bool {
	if sig == "" {
		return false
	}
	r, s, err := decodeSig(sig)
	if err != nil {
		return false
	}
	msg, err := CanonicalCSV(start, end, sip, owner, mdate)
	if err != nil {
		return false
	}
	digest := sha1.Sum(msg) //nolint:gosec
	return dsa.Verify(pub, digest[:], r, s)
}

// VerifyRecord is a convenience wrapper over Verify taking a Record
// directly, used by replica and merge.
func VerifyRecord(pub *dsa.PublicKey, rec Record) bool {
	return Verify(pub, rec.Sig, rec.Start, rec.End, rec.SIP, rec.Owner, rec.Mdate)
}

// VerifyAny reports whether rec's signature verifies against any key in
// keys: verification succeeds if any key in the set verifies.
func VerifyAny(keys []*dsa.PublicKey, rec Record) bool {
	for _, k := range keys {
		if VerifyRecord(k, rec) {
			return true
		}
	}
	return false
}
