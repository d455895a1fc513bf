package exposure

import "testing"

func TestDecodeFrameExactLength(t *testing.T) {
	raw := make([]byte, 100*100*2)
	f, ok := decodeFrame(raw, 100, 100, 16)
	if !ok {
		t.Fatal("expected decode to succeed on exact length")
	}
	if len(f.Pix16) != 100*100 {
		t.Fatalf("expected %d samples, got %d", 100*100, len(f.Pix16))
	}
}

func TestDecodeFrameOneByteShortFails(t *testing.T) {
	raw := make([]byte, 100*100*2-1)
	if _, ok := decodeFrame(raw, 100, 100, 16); ok {
		t.Fatal("expected decode to fail on a one-byte-short payload")
	}
}

func TestCropExtractsDetectorRegion(t *testing.T) {
	f := Frame{Width: 4, Height: 4, BitDepth: 16, Pix16: make([]uint16, 16)}
	for i := range f.Pix16 {
		f.Pix16[i] = uint16(i)
	}
	c := f.Crop(1, 1, 3, 3)
	if c.Width != 2 || c.Height != 2 {
		t.Fatalf("unexpected crop dims: %dx%d", c.Width, c.Height)
	}
	want := []uint16{5, 6, 9, 10}
	for i, v := range want {
		if c.Pix16[i] != v {
			t.Fatalf("pixel %d: want %d got %d", i, v, c.Pix16[i])
		}
	}
}
