// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the fixed-header message frame used to route
// messages across a process tree: a 44-byte header, a variable-length
// alias string, and a variable-length payload. All integers are
// little-endian unsigned 32-bit. There is no in-band framing token;
// alignment is implicit from the length fields, so a decode that can't
// complete leaves the buffer untouched rather than guessing.
package wire

import "encoding/binary"

// HeaderLen is the size in bytes of the fixed portion of a frame, before
// the alias and payload.
const HeaderLen = 44

// DstRemote special values.
const (
	DstBroadcast = 0 // frame fans out to every node
	DstAlias     = 1 // frame targets Frame.Alias rather than a pid
)

// Frame is a single routable message. Outbound frames are treated as
// immutable by callers except for the fields a router rewrites while
// forwarding: Dst and LastNodePid (every hop), and the ack-variant
// fields when synthesizing an acknowledgement.
type Frame struct {
	Dst         int32  // next-hop peer pid, rewritten at each hop
	Src         int32  // original emitter pid, immutable
	Serialize   bool   // payload is an application-encoded blob
	RequestAck  bool   // recipient must emit an ack
	IsAck       bool   // this frame is itself an ack
	ID          uint32 // logical message id, stable across routing and ack
	Urgent      bool   // sender should signal the next hop after flush
	DstRemote   int32  // ultimate destination: 0=broadcast, 1=alias, else pid
	LastNodePid int32  // pid that transmitted this hop (split-horizon key)
	Broadcast   bool   // fan out at each node
	Alias       string // destination alias when DstRemote == DstAlias
	Payload     []byte // opaque bytes
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func u32ToBool(v uint32) bool { return v != 0 }

// EncodedLen returns the number of bytes Encode(f) will produce.
func (f *Frame) EncodedLen() int {
	return HeaderLen + len(f.Alias) + 4 + len(f.Payload)
}

// Encode serializes f into its wire representation.
func Encode(f *Frame) []byte {
	buf := make([]byte, f.EncodedLen())
	putHeader(buf, f)
	off := HeaderLen
	copy(buf[off:], f.Alias)
	off += len(f.Alias)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Payload)))
	off += 4
	copy(buf[off:], f.Payload)
	return buf
}

// AppendEncode appends the wire representation of f to dst and returns
// the extended slice, avoiding an extra allocation when dst has spare
// capacity.
func AppendEncode(dst []byte, f *Frame) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, f.EncodedLen())...)
	putHeader(dst[start:], f)
	off := start + HeaderLen
	copy(dst[off:], f.Alias)
	off += len(f.Alias)
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(f.Payload)))
	off += 4
	copy(dst[off:], f.Payload)
	return dst
}

func putHeader(buf []byte, f *Frame) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], uint32(f.Dst))
	le.PutUint32(buf[4:8], uint32(f.Src))
	le.PutUint32(buf[8:12], boolToU32(f.Serialize))
	le.PutUint32(buf[12:16], boolToU32(f.RequestAck))
	le.PutUint32(buf[16:20], boolToU32(f.IsAck))
	le.PutUint32(buf[20:24], f.ID)
	le.PutUint32(buf[24:28], boolToU32(f.Urgent))
	le.PutUint32(buf[28:32], uint32(f.DstRemote))
	le.PutUint32(buf[32:36], uint32(f.LastNodePid))
	le.PutUint32(buf[36:40], boolToU32(f.Broadcast))
	le.PutUint32(buf[40:44], uint32(len(f.Alias)))
}

// TryDecode attempts to parse one frame from the prefix of buf.
//
// It returns ok=false with consumed=0 whenever buf does not yet hold a
// full frame (fewer than HeaderLen+alias_len+4+payload_len bytes), or
// whenever the header describes a malformed length (e.g. a payload
// length that would overflow int). In both cases buf is left untouched
// so a subsequent read that appends more bytes can complete the frame.
// On success it returns the parsed frame and the number of bytes that
// made it up; the caller is responsible for advancing its own buffer by
// consumed bytes.
func TryDecode(buf []byte) (frame *Frame, consumed int, ok bool) {
	if len(buf) < HeaderLen {
		return nil, 0, false
	}
	le := binary.LittleEndian
	aliasLen := le.Uint32(buf[40:44])
	// Guard against a corrupt/hostile length field before it's used to
	// index further into the buffer.
	if aliasLen > uint32(maxReasonableLen) {
		return nil, 0, false
	}
	aliasEnd := HeaderLen + int(aliasLen)
	if len(buf) < aliasEnd+4 {
		return nil, 0, false
	}
	payloadLen := le.Uint32(buf[aliasEnd : aliasEnd+4])
	if payloadLen > uint32(maxReasonableLen) {
		return nil, 0, false
	}
	total := aliasEnd + 4 + int(payloadLen)
	if len(buf) < total {
		return nil, 0, false
	}

	f := &Frame{
		Dst:         int32(le.Uint32(buf[0:4])),
		Src:         int32(le.Uint32(buf[4:8])),
		Serialize:   u32ToBool(le.Uint32(buf[8:12])),
		RequestAck:  u32ToBool(le.Uint32(buf[12:16])),
		IsAck:       u32ToBool(le.Uint32(buf[16:20])),
		ID:          le.Uint32(buf[20:24]),
		Urgent:      u32ToBool(le.Uint32(buf[24:28])),
		DstRemote:   int32(le.Uint32(buf[28:32])),
		LastNodePid: int32(le.Uint32(buf[32:36])),
		Broadcast:   u32ToBool(le.Uint32(buf[36:40])),
	}
	if aliasLen > 0 {
		f.Alias = string(buf[HeaderLen:aliasEnd])
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), buf[aliasEnd+4:total]...)
	}
	return f, total, true
}

// maxReasonableLen bounds alias/payload lengths decoded from an
// untrusted header so a corrupt length can't be used to justify an
// unbounded allocation or an integer overflow on 32-bit platforms.
// There is no protocol-level maximum message size in spec; this is a
// decoder-side sanity cap, not a wire limit.
const maxReasonableLen = 1 << 28
