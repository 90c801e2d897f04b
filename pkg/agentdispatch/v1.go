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
	"context"
	"crypto/rsa"
	"math/big"
	"time"

	"github.com/jeremyhahn/ssh-agentd/internal/agentlog"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentkeys"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
	"github.com/jeremyhahn/ssh-agentd/pkg/metrics"
)

func (h *Handler) rsaChallenge(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	pub := d.GetRSASSH1Pub()
	challenge := d.GetMPSSH1()
	sessionIDBuf := d.GetData(16)
	respType := d.GetUint32()
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqRSAChallenge, opts, start)
	}
	if respType != agentwire.SSH1AgentRSAResponseType1 {
		return h.fail(ctx, nil, "unsupported_response_type", metrics.ReqRSAChallenge, opts, start)
	}

	blob := encodeRSASSH1PublicBlob(pub.Bits, pub.Exponent, pub.Modulus)
	key := h.Store.Find(1, blob)
	if key == nil {
		return h.fail(ctx, nil, metrics.ReasonKeyNotFound, metrics.ReqRSAChallenge, opts, start)
	}

	var sessionID [16]byte
	copy(sessionID[:], sessionIDBuf)
	sum, err := rsa1ChallengeResponse(key.RSAPrivateKey(), new(big.Int).SetBytes(challenge), sessionID)
	if err != nil {
		return h.fail(ctx, []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReasonMalformed, metrics.ReqRSAChallenge, opts, start)
	}

	e := agentwire.NewEncoder()
	e.PutByte(agentwire.SSH1AgentRSAResponse)
	e.PutData(sum[:])
	return h.ok(ctx, e.Bytes(), []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReqRSAChallenge, opts, start)
}

// addRSAIdentity parses an ADD_RSA_IDENTITY body: the RSA private key
// material (modulus, public/private exponents, CRT coefficients) in
// the bit-length-prefixed mp_ssh1 shape, followed by the comment
// string. The key is self-tested (rsaSelfTest) before insertion.
func (h *Handler) addRSAIdentity(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	bits := d.GetUint32()
	n := d.GetMPSSH1()
	e := d.GetMPSSH1() // public exponent
	dExp := d.GetMPSSH1()
	iqmp := d.GetMPSSH1()
	p := d.GetMPSSH1()
	q := d.GetMPSSH1()
	comment := d.GetString()
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqAddRSAIdentity, opts, start)
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		},
		D:      new(big.Int).SetBytes(dExp),
		Primes: []*big.Int{new(big.Int).SetBytes(p), new(big.Int).SetBytes(q)},
	}
	priv.Precompute()
	_ = iqmp // unused: Precompute derives its own CRT coefficients

	if err := rsaSelfTest(priv); err != nil {
		agentkeys.ZeroRSAPrivateKey(priv)
		return h.fail(ctx, nil, metrics.ReasonSelfTestFailed, metrics.ReqAddRSAIdentity, opts, start)
	}

	blob := encodeRSASSH1PublicBlob(bits, e, n)
	key := agentkeys.NewSSH1Key(priv, blob, string(comment))
	if !h.Store.Add(key) {
		key.Zero()
		return h.fail(ctx, []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReasonDuplicateKey, metrics.ReqAddRSAIdentity, opts, start)
	}

	metrics.SetKeysTotal("1", float64(h.Store.Count(1)))
	return h.ok(ctx, []byte{agentwire.SSHAgentSuccess}, []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReqAddRSAIdentity, opts, start)
}

func (h *Handler) removeRSAIdentity(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	pub := d.GetRSASSH1Pub()
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqRemoveRSAIdentity, opts, start)
	}
	blob := encodeRSASSH1PublicBlob(pub.Bits, pub.Exponent, pub.Modulus)
	key := h.Store.Remove(1, blob)
	if key == nil {
		return h.fail(ctx, nil, metrics.ReasonKeyNotFound, metrics.ReqRemoveRSAIdentity, opts, start)
	}
	key.Zero()
	metrics.SetKeysTotal("1", float64(h.Store.Count(1)))
	return h.ok(ctx, []byte{agentwire.SSHAgentSuccess}, []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReqRemoveRSAIdentity, opts, start)
}
