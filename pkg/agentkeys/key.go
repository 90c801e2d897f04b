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

// Package agentkeys implements the KeyStore: a sorted, duplicate-free
// collection of loaded SSH-1 and SSH-2 keys ordered by (version,
// public blob).
package agentkeys

import (
	"crypto/rsa"
	"math/big"

	"golang.org/x/crypto/ssh"
)

// Signer is satisfied by both the SSH-1 RSA signer and the SSH-2
// wrapper around an ssh.AlgorithmSigner, letting Key hold either behind one field without
// an interface type switch at every call site that doesn't care which.
type Signer interface {
	// PublicKeyBlob returns the canonical, version-specific public key
	// encoding stored alongside the key.
	PublicKeyBlob() []byte
}

// rsa1Signer wraps an RSA private key for SSH-1 challenge-response.
// Challenge decryption is performed directly against RSA, not through
// crypto.Signer, because the v1 protocol is raw RSA decryption of a
// challenge value, not a signature scheme.
type rsa1Signer struct {
	priv *rsa.PrivateKey
	blob []byte
}

func (s *rsa1Signer) PublicKeyBlob() []byte { return s.blob }

// ssh2Signer wraps an ssh.AlgorithmSigner for SSH-2 SIGN_REQUEST
// handling.
type ssh2Signer struct {
	signer ssh.AlgorithmSigner
	pub    ssh.PublicKey
}

func (s *ssh2Signer) PublicKeyBlob() []byte { return s.pub.Marshal() }

// Key is a single loaded identity. Version is 1 or 2; PublicBlob is the
// canonical version-specific encoding of the public half, owned by this
// entry and stable for its lifetime (invariant 3 of the key store).
// Comment is free-form and never interpreted. Signer carries the
// secret material: an *rsa1Signer for version 1, an *ssh2Signer for
// version 2.
type Key struct {
	Version    int
	PublicBlob []byte
	Comment    string
	Signer     Signer
}

// NewSSH1Key builds a version-1 Key from a parsed RSA private key and
// its canonical rsa_ssh1_pub encoding.
func NewSSH1Key(priv *rsa.PrivateKey, publicBlob []byte, comment string) *Key {
	return &Key{
		Version:    1,
		PublicBlob: publicBlob,
		Comment:    comment,
		Signer:     &rsa1Signer{priv: priv, blob: publicBlob},
	}
}

// NewSSH2Key builds a version-2 Key from a parsed OpenSSH-format
// private key.
func NewSSH2Key(signer ssh.AlgorithmSigner, pub ssh.PublicKey, comment string) *Key {
	return &Key{
		Version:    2,
		PublicBlob: pub.Marshal(),
		Comment:    comment,
		Signer:     &ssh2Signer{signer: signer, pub: pub},
	}
}

// RSAPrivateKey returns the underlying RSA private key for a version-1
// Key, or nil if k is not a version-1 key.
func (k *Key) RSAPrivateKey() *rsa.PrivateKey {
	s, ok := k.Signer.(*rsa1Signer)
	if !ok {
		return nil
	}
	return s.priv
}

// AlgorithmSigner returns the underlying ssh.AlgorithmSigner for a
// version-2 Key, or nil if k is not a version-2 key.
func (k *Key) AlgorithmSigner() ssh.AlgorithmSigner {
	s, ok := k.Signer.(*ssh2Signer)
	if !ok {
		return nil
	}
	return s.signer
}

// PublicKey returns the parsed ssh.PublicKey for a version-2 Key, or
// nil if k is not a version-2 key.
func (k *Key) PublicKey() ssh.PublicKey {
	s, ok := k.Signer.(*ssh2Signer)
	if !ok {
		return nil
	}
	return s.pub
}

// zeroize overwrites b with zero bytes in place. There is no ecosystem
// package for this; it is a direct memclr loop.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// zeroBigInt clears the words backing n in place, then resets n to 0.
// big.Int.Bytes() would allocate a copy and zeroing that would do
// nothing; Bits() aliases the value's actual internal storage.
func zeroBigInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}

// ZeroRSAPrivateKey clears the secret components of an RSA private key
// that was rejected before ever being wrapped in a Key (e.g. it failed
// the self-test or turned out to be a duplicate).
func ZeroRSAPrivateKey(priv *rsa.PrivateKey) {
	if priv == nil {
		return
	}
	zeroBigInt(priv.D)
	for _, p := range priv.Primes {
		zeroBigInt(p)
	}
	if priv.Precomputed.Dp != nil {
		zeroBigInt(priv.Precomputed.Dp)
	}
	if priv.Precomputed.Dq != nil {
		zeroBigInt(priv.Precomputed.Dq)
	}
	if priv.Precomputed.Qinv != nil {
		zeroBigInt(priv.Precomputed.Qinv)
	}
}

// Zero destroys the secret material held by k. RSA private keys zero
// their numeric components; SSH-2 signers wrap opaque crypto.Signer
// values supplied by ssh.ParseRawPrivateKey, which do not expose a
// zeroing hook, so Zero clears nothing for those.
func (k *Key) Zero() {
	switch s := k.Signer.(type) {
	case *rsa1Signer:
		if s.priv == nil {
			return
		}
		zeroBigInt(s.priv.D)
		for _, p := range s.priv.Primes {
			zeroBigInt(p)
		}
		if s.priv.Precomputed.Dp != nil {
			zeroBigInt(s.priv.Precomputed.Dp)
		}
		if s.priv.Precomputed.Dq != nil {
			zeroBigInt(s.priv.Precomputed.Dq)
		}
		if s.priv.Precomputed.Qinv != nil {
			zeroBigInt(s.priv.Precomputed.Qinv)
		}
	case *ssh2Signer:
		// Opaque beyond the exported ssh.AlgorithmSigner interface;
		// nothing further to zero here.
		_ = s
	}
}
