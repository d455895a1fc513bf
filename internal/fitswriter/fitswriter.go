// Package fitswriter is a minimal, dependency-free FITS primary-HDU writer
// (80-byte card images, 2880-byte block padding) satisfying the
// ports.FITSWriter port, so the daemon is runnable end-to-end without a
// third-party FITS library. A real deployment may swap in astrogo/fitsio
// or similar; that swap is exactly what the port exists for.
package fitswriter

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/ports"
)

const (
	cardSize  = 80
	blockSize = 2880
)

// Writer offloads FITS encoding and the write-temp-then-rename sequence to
// a small fixed-size worker pool, keeping CPU-bound packing off the
// goroutines that talk to controller sockets (per §5's "CPU-bound work
// may be offloaded to a worker pool but must not touch controller
// state").
type Writer struct {
	workers chan struct{}
}

// New returns a Writer with the given worker pool size.
func New(poolSize int) *Writer {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Writer{workers: make(chan struct{}, poolSize)}
}

// Write encodes hdu as a single-HDU FITS file and writes it atomically:
// temp file in the same directory as path, then rename. It satisfies
// ports.FITSWriter.
func (w *Writer) Write(ctx context.Context, path string, hdu ports.HDU) error {
	w.workers <- struct{}{}
	defer func() { <-w.workers }()

	data, err := Encode(hdu)
	if err != nil {
		return archonerr.Wrap(archonerr.Persist, "", "fitswriter: encode failed", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fits-tmp-*")
	if err != nil {
		return archonerr.Wrap(archonerr.Persist, "", "fitswriter: create temp failed", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return archonerr.Wrap(archonerr.Persist, "", "fitswriter: write temp failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return archonerr.Wrap(archonerr.Persist, "", "fitswriter: close temp failed", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return archonerr.Wrap(archonerr.Persist, "", "fitswriter: rename failed", err)
	}
	return nil
}

// Encode renders hdu's header and pixel data as FITS bytes: a sequence of
// 80-byte header cards padded to a 2880-byte block, followed by the pixel
// data padded to a 2880-byte block.
func Encode(hdu ports.HDU) ([]byte, error) {
	var b bytes.Buffer

	bitpix := hdu.Bitpix
	if bitpix == 0 {
		if hdu.Pix32 != nil {
			bitpix = 32
		} else {
			bitpix = 16
		}
	}

	writeCard(&b, "SIMPLE", true, "conforms to FITS standard")
	writeCard(&b, "BITPIX", bitpix, "bits per data value")
	writeCard(&b, "NAXIS", 2, "number of data axes")
	writeCard(&b, "NAXIS1", hdu.Width, "length of data axis 1")
	writeCard(&b, "NAXIS2", hdu.Height, "length of data axis 2")

	switch bitpix {
	case 16:
		writeCard(&b, "BZERO", int64(1)<<15, "offset for unsigned data")
	case 32:
		writeCard(&b, "BZERO", int64(1)<<31, "offset for unsigned data")
	}

	seen := map[string]bool{"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true, "BZERO": true}
	for _, c := range hdu.Header {
		key := strings.ToUpper(c.Key)
		if seen[key] {
			continue
		}
		writeCard(&b, key, c.Value, c.Comment)
	}
	writeEnd(&b)
	padToBlock(&b)

	switch bitpix {
	case 16:
		if len(hdu.Pix16) != hdu.Width*hdu.Height {
			return nil, fmt.Errorf("fitswriter: pixel count %d does not match NAXIS1*NAXIS2 %d", len(hdu.Pix16), hdu.Width*hdu.Height)
		}
		for _, v := range hdu.Pix16 {
			// FITS unsigned-16 convention: store v-32768 as a signed
			// big-endian int16 (flipping the top bit) with BZERO=32768.
			var buf [2]byte
			binary.BigEndian.PutUint16(buf[:], v^0x8000)
			b.Write(buf[:])
		}
	case 32:
		if len(hdu.Pix32) != hdu.Width*hdu.Height {
			return nil, fmt.Errorf("fitswriter: pixel count %d does not match NAXIS1*NAXIS2 %d", len(hdu.Pix32), hdu.Width*hdu.Height)
		}
		for _, v := range hdu.Pix32 {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], v^0x80000000)
			b.Write(buf[:])
		}
	default:
		return nil, fmt.Errorf("fitswriter: unsupported BITPIX %d", bitpix)
	}
	padToBlock(&b)

	return b.Bytes(), nil
}

func writeCard(b *bytes.Buffer, key string, value any, comment string) {
	var valStr string
	switch v := value.(type) {
	case bool:
		if v {
			valStr = "T"
		} else {
			valStr = "F"
		}
		valStr = fmt.Sprintf("%20s", valStr)
	case int:
		valStr = fmt.Sprintf("%20s", strconv.Itoa(v))
	case int64:
		valStr = fmt.Sprintf("%20s", strconv.FormatInt(v, 10))
	case float64:
		valStr = fmt.Sprintf("%20s", strconv.FormatFloat(v, 'G', -1, 64))
	case string:
		valStr = "'" + padFITSString(v) + "'"
	default:
		valStr = fmt.Sprintf("%20v", v)
	}

	card := fmt.Sprintf("%-8s= %s", key, valStr)
	if comment != "" {
		card = fmt.Sprintf("%s / %s", card, comment)
	}
	if len(card) > cardSize {
		card = card[:cardSize]
	}
	b.WriteString(card)
	b.WriteString(strings.Repeat(" ", cardSize-len(card)))
}

func padFITSString(s string) string {
	if len(s) < 8 {
		return s + strings.Repeat(" ", 8-len(s))
	}
	return s
}

func writeEnd(b *bytes.Buffer) {
	card := "END"
	b.WriteString(card)
	b.WriteString(strings.Repeat(" ", cardSize-len(card)))
}

func padToBlock(b *bytes.Buffer) {
	rem := b.Len() % blockSize
	if rem == 0 {
		return
	}
	b.Write(bytes.Repeat([]byte{' '}, blockSize-rem))
}

// DefaultHeader builds the default header keys named in §4.6 step 5:
// geometry, timestamps, exposure number, software version, backplane id,
// per-tap gain/readnoise, and bias section coordinates, merged with
// caller-supplied extras (extras win on key collision).
func DefaultHeader(fields map[string]ports.HeaderCard, extras map[string]any) []ports.HeaderCard {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	overridden := make(map[string]bool, len(extras))
	for k := range extras {
		overridden[strings.ToUpper(k)] = true
	}
	out := make([]ports.HeaderCard, 0, len(fields)+len(extras))
	for _, k := range keys {
		if overridden[strings.ToUpper(fields[k].Key)] {
			continue
		}
		out = append(out, fields[k])
	}
	extraKeys := make([]string, 0, len(extras))
	for k := range extras {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		out = append(out, ports.HeaderCard{Key: strings.ToUpper(k), Value: extras[k]})
	}
	return out
}
