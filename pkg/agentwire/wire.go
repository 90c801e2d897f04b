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

// Package agentwire implements the wire primitives of the SSH-1 RSA agent
// protocol and the SSH-2 agent protocol: the request/reply tag constants,
// and the Decoder/Encoder used to parse and build frame payloads.
package agentwire

// Protocol tags. Values are fixed by the SSH agent protocol.
const (
	// SSHAgentFailure is the single-byte failure reply, shared by both
	// protocol versions.
	SSHAgentFailure byte = 5
	// SSHAgentSuccess is the single-byte success reply for operations
	// that carry no other body.
	SSHAgentSuccess byte = 6

	SSH1AgentcRequestRSAIdentities    byte = 1
	SSH1AgentRSAIdentitiesAnswer     byte = 2
	SSH1AgentcRSAChallenge           byte = 3
	SSH1AgentRSAResponse             byte = 4
	SSH1AgentcAddRSAIdentity         byte = 7
	SSH1AgentcRemoveRSAIdentity      byte = 8
	SSH1AgentcRemoveAllRSAIdentities byte = 9

	SSH2AgentcRequestIdentities   byte = 11
	SSH2AgentIdentitiesAnswer     byte = 12
	SSH2AgentcSignRequest         byte = 13
	SSH2AgentSignResponse         byte = 14
	SSH2AgentcAddIdentity         byte = 17
	SSH2AgentcRemoveIdentity      byte = 18
	SSH2AgentcRemoveAllIdentities byte = 19
)

// AgentMaxMsgLen bounds the length of a single framed request. A framed
// length at or above AgentMaxMsgLen-4 is refused without buffering its
// payload.
const AgentMaxMsgLen = 262144

// v1 challenge response type accepted by RSA_CHALLENGE; any other value
// is refused with FAILURE under its own reason, apart from decode errors.
const SSH1AgentRSAResponseType1 uint32 = 1
