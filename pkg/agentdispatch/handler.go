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

// Package agentdispatch implements the RequestHandler: the dispatch
// table that turns a decoded agent request into exactly one reply,
// consulting the KeyStore and the signing backends named in it.
package agentdispatch

import (
	"context"
	"time"

	"github.com/jeremyhahn/ssh-agentd/internal/agentlog"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentkeys"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
	"github.com/jeremyhahn/ssh-agentd/pkg/metrics"
)

// Handler dispatches decoded requests against a key store. It holds
// no per-connection state; a single Handler is shared by every
// connection the Listener accepts.
type Handler struct {
	Store  *agentkeys.Store
	Logger agentlog.Logger
}

// New returns a Handler over store, logging through logger.
func New(store *agentkeys.Store, logger agentlog.Logger) *Handler {
	return &Handler{Store: store, Logger: logger}
}

// Opts carries the per-request logging behavior negotiated for a
// client.
type Opts struct {
	// SuppressLogging, when set, collapses the usual request/key/outcome
	// log line down to a bare outcome line with no request detail.
	SuppressLogging bool
}

// Handle decodes and dispatches a single request body (the payload
// that followed the 4-byte frame length, including its leading type
// byte) and returns exactly one reply buffer. It never blocks. The one
// general-purpose RNG it touches is the crypto/rand.Reader that
// signRequest hands to the key's signer, which ECDSA signing draws
// from; every other operation here is deterministic given the key
// store and the request bytes.
func (h *Handler) Handle(ctx context.Context, body []byte, opts Opts) []byte {
	start := time.Now()
	if len(body) == 0 {
		return h.fail(ctx, nil, "empty_request", "", opts, start)
	}

	d := agentwire.NewDecoder(body[1:])
	tag := body[0]

	switch tag {
	case agentwire.SSH1AgentcRequestRSAIdentities:
		return h.listV1(ctx, start, opts)
	case agentwire.SSH2AgentcRequestIdentities:
		return h.listV2(ctx, start, opts)
	case agentwire.SSH1AgentcRSAChallenge:
		return h.rsaChallenge(ctx, d, opts, start)
	case agentwire.SSH2AgentcSignRequest:
		return h.signRequest(ctx, d, opts, start)
	case agentwire.SSH1AgentcAddRSAIdentity:
		return h.addRSAIdentity(ctx, d, opts, start)
	case agentwire.SSH2AgentcAddIdentity:
		return h.addIdentity(ctx, d, opts, start)
	case agentwire.SSH1AgentcRemoveRSAIdentity:
		return h.removeRSAIdentity(ctx, d, opts, start)
	case agentwire.SSH2AgentcRemoveIdentity:
		return h.removeIdentity(ctx, d, opts, start)
	case agentwire.SSH1AgentcRemoveAllRSAIdentities:
		return h.removeAll(ctx, 1, metrics.ReqRemoveAll, opts, start)
	case agentwire.SSH2AgentcRemoveAllIdentities:
		return h.removeAll(ctx, 2, metrics.ReqRemoveAll, opts, start)
	default:
		return h.fail(ctx, nil, "unknown_tag", "", opts, start)
	}
}

// fail builds the FAILURE reply (§4.7): whatever reply the caller had
// begun composing is dropped and exactly one byte is emitted; the
// caller's key fields are still logged alongside the reason.
// reqTag identifies the request kind for metrics when known; reason
// drives both the failure-reason metric and the (non-suppressed) log
// line.
func (h *Handler) fail(ctx context.Context, fields []agentlog.Field, reason, reqTag string, opts Opts, start time.Time) []byte {
	metrics.RecordFailure(reason)
	if reqTag != "" {
		metrics.RecordRequest(reqTag, metrics.StatusError, time.Since(start).Seconds())
	}
	if h.Logger != nil {
		if opts.SuppressLogging {
			h.Logger.InfoContext(ctx, "request failed")
		} else {
			f := append(append([]agentlog.Field{}, fields...), agentlog.String("reason", reason))
			if reqTag != "" {
				f = append(f, agentlog.String("request", reqTag))
			}
			h.Logger.WarnContext(ctx, "request failed", f...)
		}
	}
	return []byte{agentwire.SSHAgentFailure}
}

// ok logs and records a successful request's metrics, given the
// already-built reply bytes.
func (h *Handler) ok(ctx context.Context, reply []byte, fields []agentlog.Field, reqTag string, opts Opts, start time.Time) []byte {
	metrics.RecordRequest(reqTag, metrics.StatusSuccess, time.Since(start).Seconds())
	if h.Logger != nil {
		if opts.SuppressLogging {
			h.Logger.InfoContext(ctx, "request ok")
		} else {
			h.Logger.InfoContext(ctx, "request ok", append([]agentlog.Field{agentlog.String("request", reqTag)}, fields...)...)
		}
	}
	return reply
}

func (h *Handler) listV1(ctx context.Context, start time.Time, opts Opts) []byte {
	e := agentwire.NewEncoder()
	e.PutByte(agentwire.SSH1AgentRSAIdentitiesAnswer)
	h.Store.ListSerialized(1, e)
	return h.ok(ctx, e.Bytes(), []agentlog.Field{agentlog.Int("count", h.Store.Count(1))}, metrics.ReqListIdentities, opts, start)
}

func (h *Handler) listV2(ctx context.Context, start time.Time, opts Opts) []byte {
	e := agentwire.NewEncoder()
	e.PutByte(agentwire.SSH2AgentIdentitiesAnswer)
	h.Store.ListSerialized(2, e)
	return h.ok(ctx, e.Bytes(), []agentlog.Field{agentlog.Int("count", h.Store.Count(2))}, metrics.ReqListIdentities, opts, start)
}

func (h *Handler) removeAll(ctx context.Context, version int, reqTag string, opts Opts, start time.Time) []byte {
	n := h.Store.RemoveAll(version)
	metrics.SetKeysTotal(versionLabel(version), float64(h.Store.Count(version)))
	reply := []byte{agentwire.SSHAgentSuccess}
	return h.ok(ctx, reply, []agentlog.Field{agentlog.Int("version", version), agentlog.Int("removed", n)}, reqTag, opts, start)
}

func versionLabel(v int) string {
	if v == 1 {
		return "1"
	}
	return "2"
}
