// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame *Frame
	}{
		{
			name: "minimal unicast",
			frame: &Frame{
				Dst: 200, Src: 100, DstRemote: 200, LastNodePid: 100, ID: 7,
			},
		},
		{
			name: "ack with payload",
			frame: &Frame{
				Dst: 100, Src: 200, DstRemote: 100, LastNodePid: 200,
				IsAck: true, ID: 9, Payload: []byte("1"),
			},
		},
		{
			name: "broadcast",
			frame: &Frame{
				Dst: 300, Src: 100, DstRemote: DstBroadcast, LastNodePid: 100,
				Broadcast: true, ID: 42, Payload: []byte("bcast"),
			},
		},
		{
			name: "alias routed, urgent, serialized",
			frame: &Frame{
				Dst: 0, Src: 100, DstRemote: DstAlias, LastNodePid: 100,
				Alias: "worker", Serialize: true, Urgent: true, RequestAck: true,
				ID: 11, Payload: []byte("job payload"),
			},
		},
		{
			name:  "empty alias and payload",
			frame: &Frame{Dst: 2, Src: 1, DstRemote: 2, LastNodePid: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.frame)
			if len(encoded) != tc.frame.EncodedLen() {
				t.Fatalf("EncodedLen()=%d but Encode produced %d bytes", tc.frame.EncodedLen(), len(encoded))
			}
			got, n, ok := TryDecode(encoded)
			if !ok {
				t.Fatalf("TryDecode: ok=false for a fully-buffered frame")
			}
			if n != len(encoded) {
				t.Fatalf("TryDecode consumed=%d, want %d", n, len(encoded))
			}
			if diff := cmp.Diff(tc.frame, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTryDecode_InsufficientBytesLeavesBufferUntouched(t *testing.T) {
	full := Encode(&Frame{
		Dst: 2, Src: 1, DstRemote: 2, LastNodePid: 1, Alias: "x",
		Payload: []byte("hello world"),
	})

	for n := 0; n < len(full); n++ {
		prefix := append([]byte(nil), full[:n]...)
		frame, consumed, ok := TryDecode(prefix)
		if ok {
			t.Fatalf("TryDecode(%d bytes of %d) unexpectedly succeeded", n, len(full))
		}
		if consumed != 0 || frame != nil {
			t.Fatalf("TryDecode(%d bytes) on failure must not consume or return a frame, got consumed=%d frame=%v", n, consumed, frame)
		}
	}
}

func TestTryDecode_PartialReadAcrossHeaderBoundaryNeverFalseDecodes(t *testing.T) {
	full := Encode(&Frame{
		Dst: 5, Src: 6, DstRemote: 5, LastNodePid: 6, Alias: "ab",
		Payload: []byte("payload-data"),
	})

	var acc Accumulator
	// Feed one byte at a time, including straight through the header
	// boundary (byte 44) and the alias/payload-length boundary.
	var got *Frame
	for i, b := range full {
		acc.Append([]byte{b})
		f, ok := acc.Next()
		if ok {
			if i != len(full)-1 {
				t.Fatalf("decoded early at byte %d of %d", i, len(full))
			}
			got = f
		}
	}
	if got == nil {
		t.Fatalf("frame never decoded after feeding all bytes")
	}
	if got.Alias != "ab" || string(got.Payload) != "payload-data" {
		t.Fatalf("decoded frame mismatch: %+v", got)
	}
}

func TestTryDecode_MalformedLengthsDoNotPanic(t *testing.T) {
	f := &Frame{Dst: 1, Src: 2, DstRemote: 1, LastNodePid: 2, Alias: "a"}
	buf := Encode(f)
	// Corrupt alias_len to an enormous value.
	buf[40] = 0xff
	buf[41] = 0xff
	buf[42] = 0xff
	buf[43] = 0xff
	if _, _, ok := TryDecode(buf); ok {
		t.Fatalf("TryDecode with a corrupt alias_len unexpectedly succeeded")
	}
}

func TestAccumulator_MultipleFramesInOneAppend(t *testing.T) {
	f1 := &Frame{Dst: 2, Src: 1, DstRemote: 2, LastNodePid: 1, ID: 1, Payload: []byte("one")}
	f2 := &Frame{Dst: 2, Src: 1, DstRemote: 2, LastNodePid: 1, ID: 2, Payload: []byte("two")}

	var acc Accumulator
	acc.Append(Encode(f1))
	acc.Append(Encode(f2))

	got1, ok := acc.Next()
	if !ok {
		t.Fatalf("expected first frame to decode")
	}
	got2, ok := acc.Next()
	if !ok {
		t.Fatalf("expected second frame to decode")
	}
	if _, ok := acc.Next(); ok {
		t.Fatalf("expected no third frame")
	}
	if diff := cmp.Diff(f1, got1); diff != "" {
		t.Fatalf("frame 1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f2, got2); diff != "" {
		t.Fatalf("frame 2 mismatch (-want +got):\n%s", diff)
	}
	if acc.Len() != 0 {
		t.Fatalf("accumulator should be drained, has %d bytes left", acc.Len())
	}
}
