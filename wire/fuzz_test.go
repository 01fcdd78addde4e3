package wire

import (
	"bytes"
	"testing"
)

func FuzzReadFrame(f *testing.F) {
	var good bytes.Buffer
	if err := WriteFrame(&good, []byte("hello")); err != nil {
		f.Fatal(err)
	}
	f.Add(good.Bytes())
	f.Add([]byte{0x00, 0x00, 0x00, 0x00})
	f.Add([]byte("shrt"))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Keep allocations bounded when the fuzzer generates a huge
		// length prefix; the too-large path has its own unit test.
		if len(data) >= 4 {
			data[0], data[1] = 0, 0
		}
		frame, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			return
		}
		if len(frame) > MaxFrameBytes {
			t.Fatalf("frame exceeds bound: %d", len(frame))
		}
	})
}
