// Package archive streams the text lines out of the first entry of a zip
// archive without buffering the archive itself.
package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultChunkSize is how many bytes are read from the source at a time.
const DefaultChunkSize = 64 * 1024

const (
	localFileHeaderSignature  = 0x04034b50
	centralDirectorySignature = 0x02014b50
	endOfCentralDirSignature  = 0x06054b50
	dataDescriptorSignature   = 0x08074b50

	localFileHeaderLen = 30

	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8

	methodStore   = 0
	methodDeflate = 8
)

var (
	ErrNotZip      = errors.New("archive: not a zip archive")
	ErrUnsupported = errors.New("archive: unsupported entry")
	ErrChecksum    = errors.New("archive: checksum mismatch")
)

type Option func(*LineDecoder)

// WithChunkSize sets the size of the reads issued against the source and
// against the decompressor.
func WithChunkSize(n int) Option {
	return func(d *LineDecoder) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// LineDecoder yields the newline terminated lines of the first entry of a
// zip archive, decoded from ISO-8859-1. It is used like bufio.Scanner:
//
//	for d.Next() {
//		line := d.Line()
//	}
//	if err := d.Err(); err != nil { ... }
//
// Lines keep their terminator. A trailing line without terminator is
// yielded as is.
type LineDecoder struct {
	chunkSize int
	src       *bufio.Reader
	entry     io.Reader
	entryName string
	opened    bool

	crc        hash.Hash32
	wantCRC    uint32
	descriptor bool

	chunk   []byte
	buf     []byte
	start   int
	eof     bool
	latin1  *encoding.Decoder
	decoded []byte

	line string
	err  error
}

func NewLineDecoder(r io.Reader, opts ...Option) *LineDecoder {
	d := &LineDecoder{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(d)
	}
	d.src = bufio.NewReaderSize(r, d.chunkSize)
	d.chunk = make([]byte, d.chunkSize)
	d.latin1 = charmap.ISO8859_1.NewDecoder()
	return d
}

// EntryName is the file name of the entry being decoded, available after
// the first call to Next.
func (d *LineDecoder) EntryName() string {
	return d.entryName
}

func (d *LineDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if !d.opened {
		d.opened = true
		if err := d.open(); err != nil {
			d.err = err
			return false
		}
	}
	if d.entry == nil {
		return false
	}

	for {
		pending := d.buf[d.start:]
		if i := bytes.IndexByte(pending, '\n'); i >= 0 {
			d.emit(pending[:i+1])
			d.start += i + 1
			return true
		}
		if d.eof {
			if len(pending) == 0 {
				return false
			}
			d.emit(pending)
			d.start = len(d.buf)
			return true
		}
		if err := d.fill(); err != nil {
			d.err = err
			return false
		}
	}
}

func (d *LineDecoder) Line() string {
	return d.line
}

func (d *LineDecoder) Err() error {
	return d.err
}

// fill reads one chunk of decompressed data into the line buffer.
func (d *LineDecoder) fill() error {
	if d.start > 0 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}

	n, err := d.entry.Read(d.chunk)
	if n > 0 {
		d.crc.Write(d.chunk[:n])
		d.buf = append(d.buf, d.chunk[:n]...)
	}
	if errors.Is(err, io.EOF) {
		d.eof = true
		return d.verify()
	}
	if err != nil {
		return fmt.Errorf("archive: read entry %q: %w", d.entryName, err)
	}
	return nil
}

func (d *LineDecoder) emit(raw []byte) {
	// each byte widens to at most two UTF-8 bytes
	if need := 2 * len(raw); cap(d.decoded) < need {
		d.decoded = make([]byte, need)
	}
	d.latin1.Reset()
	// ISO-8859-1 maps every byte to a rune, decoding cannot fail
	n, _, _ := d.latin1.Transform(d.decoded[:cap(d.decoded)], raw, true)
	d.line = string(d.decoded[:n])
}

// open parses the local file header of the first entry and prepares a
// reader over its contents.
func (d *LineDecoder) open() error {
	var header [localFileHeaderLen]byte
	_, err := io.ReadFull(d.src, header[:4])
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: empty stream", ErrNotZip)
	}
	if err != nil {
		return fmt.Errorf("archive: read header: %w", err)
	}

	switch binary.LittleEndian.Uint32(header[:4]) {
	case localFileHeaderSignature:
	case centralDirectorySignature, endOfCentralDirSignature:
		// archive without entries
		return nil
	default:
		return ErrNotZip
	}

	if _, err := io.ReadFull(d.src, header[4:]); err != nil {
		return fmt.Errorf("archive: read header: %w", err)
	}

	flags := binary.LittleEndian.Uint16(header[6:8])
	method := binary.LittleEndian.Uint16(header[8:10])
	d.wantCRC = binary.LittleEndian.Uint32(header[14:18])
	compressedSize := binary.LittleEndian.Uint32(header[18:22])
	nameLen := binary.LittleEndian.Uint16(header[26:28])
	extraLen := binary.LittleEndian.Uint16(header[28:30])

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(d.src, name); err != nil {
		return fmt.Errorf("archive: read entry name: %w", err)
	}
	d.entryName = string(name)
	if _, err := io.CopyN(io.Discard, d.src, int64(extraLen)); err != nil {
		return fmt.Errorf("archive: read extra field: %w", err)
	}

	if flags&flagEncrypted != 0 {
		return fmt.Errorf("%w: %q is encrypted", ErrUnsupported, d.entryName)
	}
	d.descriptor = flags&flagDataDescriptor != 0

	switch method {
	case methodDeflate:
		d.entry = flate.NewReader(d.src)
	case methodStore:
		if d.descriptor {
			return fmt.Errorf("%w: stored entry %q has no size", ErrUnsupported, d.entryName)
		}
		d.entry = io.LimitReader(d.src, int64(compressedSize))
	default:
		return fmt.Errorf("%w: compression method %d", ErrUnsupported, method)
	}

	d.crc = crc32.NewIEEE()
	return nil
}

// verify checks the CRC-32 of the entry once it has been fully read. When
// the header defers the checksum to a data descriptor it is read from the
// stream right after the compressed data.
func (d *LineDecoder) verify() error {
	if closer, ok := d.entry.(io.Closer); ok {
		closer.Close()
	}

	want := d.wantCRC
	if d.descriptor {
		var word [4]byte
		if _, err := io.ReadFull(d.src, word[:]); err != nil {
			return fmt.Errorf("archive: read data descriptor: %w", err)
		}
		want = binary.LittleEndian.Uint32(word[:])
		if want == dataDescriptorSignature {
			if _, err := io.ReadFull(d.src, word[:]); err != nil {
				return fmt.Errorf("archive: read data descriptor: %w", err)
			}
			want = binary.LittleEndian.Uint32(word[:])
		}
	}

	if got := d.crc.Sum32(); got != want {
		return fmt.Errorf("%w: %q has crc %08x, expected %08x", ErrChecksum, d.entryName, got, want)
	}
	return nil
}
