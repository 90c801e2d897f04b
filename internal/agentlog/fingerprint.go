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

package agentlog

import (
	"crypto/sha256"
	"encoding/base64"
)

// fingerprintSHA256 renders a public key blob's fingerprint the way
// OpenSSH does: "SHA256:" followed by the unpadded base64 digest.
func fingerprintSHA256(publicBlob []byte) string {
	sum := sha256.Sum256(publicBlob)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}
