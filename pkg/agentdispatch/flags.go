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

import "golang.org/x/crypto/ssh"

// SIGN_REQUEST flag bits defined by the SSH-2 agent protocol for the
// ssh-rsa key type; every other key type advertises no flags.
const (
	flagRSASHA2256 uint32 = 1 << 1
	flagRSASHA2512 uint32 = 1 << 2
)

// supportedFlags returns the set of flag bits an algorithm advertises
// as meaningful. Any bit in a SIGN_REQUEST's flags word outside this
// set is a hard protocol error (invariant 5), checked as a declared
// table rather than reflection over the signer.
func supportedFlags(pubKeyAlgo string) uint32 {
	if pubKeyAlgo == ssh.KeyAlgoRSA {
		return flagRSASHA2256 | flagRSASHA2512
	}
	return 0
}

// signatureAlgorithmForFlags picks the signature algorithm name to
// request from an AlgorithmSigner given a validated flags word. flags
// is assumed to already have been checked against supportedFlags.
func signatureAlgorithmForFlags(pubKeyAlgo string, flags uint32) string {
	if pubKeyAlgo != ssh.KeyAlgoRSA {
		return pubKeyAlgo
	}
	switch {
	case flags&flagRSASHA2512 != 0:
		return ssh.SigAlgoRSASHA2512
	case flags&flagRSASHA2256 != 0:
		return ssh.SigAlgoRSASHA2256
	default:
		return ssh.SigAlgoRSA
	}
}
