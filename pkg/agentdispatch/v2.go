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
	"crypto/rand"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jeremyhahn/ssh-agentd/internal/agentlog"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentkeys"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
	"github.com/jeremyhahn/ssh-agentd/pkg/metrics"
)

// signRequest implements SIGN_REQUEST. The flags word is optional:
// its absence is treated as flags = 0 (invariant 6). Any bit outside
// the key's advertised supported set is refused before the signer is
// ever invoked (invariant 5) — no partial signature is attempted.
func (h *Handler) signRequest(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	keyBlob := d.GetString()
	data := d.GetString()
	var flags uint32
	if d.Remaining() > 0 {
		flags = d.GetUint32()
	}
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqSignRequest, opts, start)
	}

	key := h.Store.Find(2, keyBlob)
	if key == nil {
		return h.fail(ctx, nil, metrics.ReasonKeyNotFound, metrics.ReqSignRequest, opts, start)
	}

	fields := []agentlog.Field{agentlog.Fingerprint("key", keyBlob)}

	pubKeyAlgo := key.PublicKey().Type()
	supported := supportedFlags(pubKeyAlgo)
	if flags&^supported != 0 {
		return h.fail(ctx, fields, metrics.ReasonUnknownFlags, metrics.ReqSignRequest, opts, start)
	}

	algo := signatureAlgorithmForFlags(pubKeyAlgo, flags)
	// rand.Reader is passed through to the signer because some
	// algorithms (ECDSA) require randomness as part of their own
	// signature scheme; the agent's dispatch logic above this call
	// remains fully deterministic given key + input, which is what the
	// no-ambient-RNG rule is protecting.
	sig, err := key.AlgorithmSigner().SignWithAlgorithm(rand.Reader, data, algo)
	if err != nil {
		return h.fail(ctx, fields, "sign_failed", metrics.ReqSignRequest, opts, start)
	}

	e := agentwire.NewEncoder()
	e.PutByte(agentwire.SSH2AgentSignResponse)
	e.PutString(ssh.Marshal(sig))
	metrics.RecordSignature()
	return h.ok(ctx, e.Bytes(), fields, metrics.ReqSignRequest, opts, start)
}

// addIdentity implements ADD_IDENTITY. The algorithm name travels
// alongside the OpenSSH-format private key body so a mismatch between
// the declared algorithm and the parsed key type is itself a
// rejection, not silently tolerated.
func (h *Handler) addIdentity(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	algo := d.GetString()
	privBody := d.GetString()
	comment := d.GetString()
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqAddIdentity, opts, start)
	}

	raw, err := ssh.ParseRawPrivateKey(privBody)
	if err != nil {
		return h.fail(ctx, nil, "key_parse_failed", metrics.ReqAddIdentity, opts, start)
	}
	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return h.fail(ctx, nil, "key_parse_failed", metrics.ReqAddIdentity, opts, start)
	}
	algoSigner, ok := signer.(ssh.AlgorithmSigner)
	if !ok {
		return h.fail(ctx, nil, "unknown_algorithm", metrics.ReqAddIdentity, opts, start)
	}
	if string(algo) != signer.PublicKey().Type() {
		return h.fail(ctx, nil, "unknown_algorithm", metrics.ReqAddIdentity, opts, start)
	}

	key := agentkeys.NewSSH2Key(algoSigner, signer.PublicKey(), string(comment))
	fields := []agentlog.Field{agentlog.Fingerprint("key", key.PublicBlob)}
	if !h.Store.Add(key) {
		key.Zero()
		return h.fail(ctx, fields, metrics.ReasonDuplicateKey, metrics.ReqAddIdentity, opts, start)
	}

	metrics.SetKeysTotal("2", float64(h.Store.Count(2)))
	return h.ok(ctx, []byte{agentwire.SSHAgentSuccess}, fields, metrics.ReqAddIdentity, opts, start)
}

func (h *Handler) removeIdentity(ctx context.Context, d *agentwire.Decoder, opts Opts, start time.Time) []byte {
	blob := d.GetString()
	if d.Failed() {
		return h.fail(ctx, nil, metrics.ReasonMalformed, metrics.ReqRemoveIdentity, opts, start)
	}
	key := h.Store.Remove(2, blob)
	if key == nil {
		return h.fail(ctx, nil, metrics.ReasonKeyNotFound, metrics.ReqRemoveIdentity, opts, start)
	}
	key.Zero()
	metrics.SetKeysTotal("2", float64(h.Store.Count(2)))
	return h.ok(ctx, []byte{agentwire.SSHAgentSuccess}, []agentlog.Field{agentlog.Fingerprint("key", blob)}, metrics.ReqRemoveIdentity, opts, start)
}
