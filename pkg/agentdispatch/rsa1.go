// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package agentdispatch

import (
	"crypto/md5"
	"crypto/rsa"
	"errors"
	"math/big"

	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
)

// encodeRSASSH1PublicBlob renders the canonical rsa_ssh1_pub byte
// sequence used as a version-1 Key's PublicBlob, so store insertion
// and challenge/remove lookups key off identical bytes.
func encodeRSASSH1PublicBlob(bits uint32, exponent, modulus []byte) []byte {
	e := agentwire.NewEncoder()
	e.PutRSASSH1Pub(bits, exponent, modulus)
	return e.Bytes()
}

// rsa1ChallengeResponse implements the v1 challenge-response
// calculation of §4.3: decrypt the challenge with the stored private
// key to obtain a 256-bit integer, form its 32-byte big-endian
// representation (zero-padded if the plaintext is shorter, cut to its
// low-order 256 bits if it is wider — extraction must operate on the
// fixed 256-bit width, never the minimal encoding), concatenate with the 16-byte session id, and return the
// MD5 of that 48-byte buffer.
//
// SSH-1's RSA_CHALLENGE is raw textbook RSA exponentiation of the
// challenge integer (no OAEP/PKCS1 padding scheme) — this is the
// legacy protocol's own design, not a simplification; crypto/rsa's
// padded decrypt/verify routines don't apply here.
func rsa1ChallengeResponse(priv *rsa.PrivateKey, challenge *big.Int, sessionID [16]byte) ([16]byte, error) {
	if challenge.Sign() < 0 || challenge.Cmp(priv.N) >= 0 {
		return [16]byte{}, errors.New("agentdispatch: challenge out of range")
	}
	plain := new(big.Int).Exp(challenge, priv.D, priv.N)

	var padded [32]byte
	plainBytes := plain.Bytes()
	if len(plainBytes) > len(padded) {
		plainBytes = plainBytes[len(plainBytes)-len(padded):]
	}
	copy(padded[len(padded)-len(plainBytes):], plainBytes)

	h := md5.New()
	h.Write(padded[:])
	h.Write(sessionID[:])
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// rsaSelfTest mirrors pageant.c's loadrsakey consistency check: sign
// and verify a fixed probe value with the freshly parsed key before
// it is trusted, catching malformed or inconsistent key material
// before it ever reaches the store.
func rsaSelfTest(priv *rsa.PrivateKey) error {
	probe := big.NewInt(0x2a2a2a2a)
	if probe.Cmp(priv.N) >= 0 {
		return errors.New("agentdispatch: key modulus too small for self-test")
	}
	sig := new(big.Int).Exp(probe, priv.D, priv.N)
	back := new(big.Int).Exp(sig, big.NewInt(int64(priv.E)), priv.N)
	if back.Cmp(probe) != 0 {
		return errors.New("agentdispatch: RSA self-test failed")
	}
	return nil
}
