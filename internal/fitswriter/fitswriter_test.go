package fitswriter

import (
	"testing"

	"github.com/sdss/archond/internal/ports"
)

func TestEncodeBlockPadded(t *testing.T) {
	hdu := ports.HDU{Width: 2, Height: 2, Bitpix: 16, Pix16: []uint16{1, 2, 3, 4}}
	data, err := Encode(hdu)
	if err != nil {
		t.Fatal(err)
	}
	if len(data)%blockSize != 0 {
		t.Fatalf("expected output padded to a %d-byte block, got length %d", blockSize, len(data))
	}
}

func TestEncodeRejectsPixelCountMismatch(t *testing.T) {
	hdu := ports.HDU{Width: 2, Height: 2, Bitpix: 16, Pix16: []uint16{1, 2, 3}}
	if _, err := Encode(hdu); err == nil {
		t.Fatal("expected error on pixel count mismatch")
	}
}

func TestEncodeCardsAreEightyBytes(t *testing.T) {
	hdu := ports.HDU{
		Width: 1, Height: 1, Bitpix: 16, Pix16: []uint16{0},
		Header: []ports.HeaderCard{{Key: "OBJECT", Value: "test"}},
	}
	data, err := Encode(hdu)
	if err != nil {
		t.Fatal(err)
	}
	header := data[:blockSize]
	for i := 0; i < blockSize; i += cardSize {
		card := header[i : i+cardSize]
		if len(card) != cardSize {
			t.Fatalf("card at offset %d is not %d bytes", i, cardSize)
		}
	}
}
