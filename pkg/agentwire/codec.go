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

package agentwire

import "encoding/binary"

// Decoder is a cursor over a byte span offering the agent wire
// primitives. Every Get* method sets a sticky error flag on short read
// instead of panicking or returning an error value; callers perform all
// their reads and check Failed() once at the end. This mirrors the
// protocol's own malformed-payload rule: a request is malformed iff,
// after the handler has read its expected fields, the cursor has
// failed.
type Decoder struct {
	buf    []byte
	pos    int
	failed bool
}

// NewDecoder wraps buf for sequential reads. buf is not copied; callers
// must not mutate it while the Decoder is in use.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Failed reports whether any prior Get* call ran out of bytes.
func (d *Decoder) Failed() bool {
	return d.failed
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	if d.pos > len(d.buf) {
		return 0
	}
	return len(d.buf) - d.pos
}

func (d *Decoder) take(n int) []byte {
	if d.failed || n < 0 || n > d.Remaining() {
		d.failed = true
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// GetByte reads a single byte.
func (d *Decoder) GetByte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// GetUint32 reads a 4-byte big-endian unsigned integer.
func (d *Decoder) GetUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// GetData reads exactly n raw bytes. The returned slice aliases the
// Decoder's backing buffer.
func (d *Decoder) GetData(n int) []byte {
	return d.take(n)
}

// GetString reads a length-prefixed byte string: uint32 len || len
// bytes.
func (d *Decoder) GetString() []byte {
	n := d.GetUint32()
	if d.failed {
		return nil
	}
	return d.take(int(n))
}

// GetMPSSH1 reads an SSH-1 multiple-precision integer: a 16-bit
// big-endian bit length followed by ceil(bits/8) big-endian bytes. The
// returned byte slice has exactly that many bytes, most-significant
// byte first.
func (d *Decoder) GetMPSSH1() []byte {
	bitsBuf := d.take(2)
	if bitsBuf == nil {
		return nil
	}
	bits := binary.BigEndian.Uint16(bitsBuf)
	nbytes := (int(bits) + 7) / 8
	return d.take(nbytes)
}

// RSASSH1PublicKey is the SSH-1 fixed-shape public key encoding:
// bit-length-prefixed exponent followed by bit-length-prefixed modulus,
// preceded by a uint32 total-bits field.
type RSASSH1PublicKey struct {
	Bits     uint32
	Exponent []byte
	Modulus  []byte
}

// GetRSASSH1Pub reads an rsa_ssh1_pub value: uint32 bits || mp_ssh1
// exponent || mp_ssh1 modulus.
func (d *Decoder) GetRSASSH1Pub() RSASSH1PublicKey {
	bits := d.GetUint32()
	e := d.GetMPSSH1()
	n := d.GetMPSSH1()
	return RSASSH1PublicKey{Bits: bits, Exponent: e, Modulus: n}
}

// Encoder writes into an append-only byte buffer using primitives
// symmetric with Decoder. It never fails: callers size their replies
// from trusted, already-validated data.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// PutByte appends a single byte.
func (e *Encoder) PutByte(b byte) {
	e.buf = append(e.buf, b)
}

// PutUint32 appends a 4-byte big-endian unsigned integer.
func (e *Encoder) PutUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutData appends raw bytes with no length prefix.
func (e *Encoder) PutData(b []byte) {
	e.buf = append(e.buf, b...)
}

// PutString appends a length-prefixed byte string.
func (e *Encoder) PutString(b []byte) {
	e.PutUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// PutMPSSH1 appends an SSH-1 multiple-precision integer given its
// big-endian byte representation. Leading zero bytes in v are dropped,
// so exactly ceil(bits/8) value bytes follow the bit length.
func (e *Encoder) PutMPSSH1(v []byte) {
	bits := bitLen(v)
	v = v[len(v)-(bits+7)/8:]
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(bits))
	e.buf = append(e.buf, tmp[:]...)
	e.buf = append(e.buf, v...)
}

// bitLen returns the bit length of a big-endian unsigned integer
// encoded in v, treating leading zero bytes as not contributing bits.
func bitLen(v []byte) int {
	i := 0
	for i < len(v) && v[i] == 0 {
		i++
	}
	if i == len(v) {
		return 0
	}
	bits := (len(v) - i - 1) * 8
	top := v[i]
	for top != 0 {
		bits++
		top >>= 1
	}
	return bits
}

// PutRSASSH1Pub appends an rsa_ssh1_pub value.
func (e *Encoder) PutRSASSH1Pub(bits uint32, exponent, modulus []byte) {
	e.PutUint32(bits)
	e.PutMPSSH1(exponent)
	e.PutMPSSH1(modulus)
}
