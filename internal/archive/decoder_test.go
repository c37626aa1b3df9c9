package archive

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

type entry struct {
	name     string
	contents []byte
}

func buildZip(t testing.TB, entries ...entry) []byte {
	t.Helper()

	var out bytes.Buffer
	w := zip.NewWriter(&out)
	for _, e := range entries {
		f, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = f.Write(e.contents)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return out.Bytes()
}

func latin1(t testing.TB, s string) []byte {
	t.Helper()
	encoded, err := charmap.ISO8859_1.NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(encoded)
}

func collect(t testing.TB, d *LineDecoder) []string {
	t.Helper()
	var lines []string
	for d.Next() {
		lines = append(lines, d.Line())
	}
	require.NoError(t, d.Err())
	return lines
}

func TestDecodeLines(t *testing.T) {
	payload := latin1(t, "Vehículos matriculados\nfirst line\nsecond line\nno terminator")
	archive := buildZip(t, entry{name: "export.txt", contents: payload})

	d := NewLineDecoder(bytes.NewReader(archive))
	lines := collect(t, d)

	require.Equal(t, []string{
		"Vehículos matriculados\n",
		"first line\n",
		"second line\n",
		"no terminator",
	}, lines)
	require.Equal(t, "export.txt", d.EntryName())
}

func TestDecodeChunkBoundaryIndependence(t *testing.T) {
	var payload strings.Builder
	for i := 0; i < 200; i++ {
		payload.WriteString(strings.Repeat("ÑA", i%17))
		payload.WriteString("\n")
	}
	payload.WriteString("tail")
	archive := buildZip(t, entry{name: "a.txt", contents: latin1(t, payload.String())})

	whole := collect(t, NewLineDecoder(bytes.NewReader(archive)))
	require.Len(t, whole, 201)

	table := []struct {
		name    string
		decoder *LineDecoder
	}{
		{
			name:    "one byte reads",
			decoder: NewLineDecoder(iotest.OneByteReader(bytes.NewReader(archive))),
		},
		{
			name:    "one byte chunks",
			decoder: NewLineDecoder(bytes.NewReader(archive), WithChunkSize(1)),
		},
		{
			name:    "odd chunks",
			decoder: NewLineDecoder(iotest.HalfReader(bytes.NewReader(archive)), WithChunkSize(7)),
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			require.Equal(t, whole, collect(t, row.decoder))
		})
	}
}

func TestDecodeOnlyFirstEntry(t *testing.T) {
	archive := buildZip(t,
		entry{name: "first.txt", contents: []byte("a\nb\n")},
		entry{name: "second.txt", contents: []byte("c\nd\n")},
	)

	lines := collect(t, NewLineDecoder(bytes.NewReader(archive)))
	require.Equal(t, []string{"a\n", "b\n"}, lines)
}

func TestDecodeStoredEntry(t *testing.T) {
	contents := []byte("stored\nlines")

	var out bytes.Buffer
	w := zip.NewWriter(&out)
	f, err := w.CreateRaw(&zip.FileHeader{
		Name:               "stored.txt",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(contents),
		CompressedSize64:   uint64(len(contents)),
		UncompressedSize64: uint64(len(contents)),
	})
	require.NoError(t, err)
	_, err = f.Write(contents)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := collect(t, NewLineDecoder(bytes.NewReader(out.Bytes())))
	require.Equal(t, []string{"stored\n", "lines"}, lines)
}

func TestDecodeEmptyArchive(t *testing.T) {
	archive := buildZip(t)

	d := NewLineDecoder(bytes.NewReader(archive))
	require.False(t, d.Next())
	require.NoError(t, d.Err())
}

func TestDecodeRejectsNonZip(t *testing.T) {
	d := NewLineDecoder(strings.NewReader("<html><body>error</body></html>"))
	require.False(t, d.Next())
	require.ErrorIs(t, d.Err(), ErrNotZip)

	d = NewLineDecoder(strings.NewReader(""))
	require.False(t, d.Next())
	require.ErrorIs(t, d.Err(), ErrNotZip)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	archive := buildZip(t, entry{name: "a.txt", contents: []byte("line\n")})
	// truncate inside the compressed data
	truncated := archive[:40]

	d := NewLineDecoder(bytes.NewReader(truncated))
	for d.Next() {
	}
	require.Error(t, d.Err())
}

func TestDecodeHighBytesAcrossLines(t *testing.T) {
	var raw []byte
	for b := 0xA0; b <= 0xFF; b++ {
		raw = append(raw, byte(b))
		if b%16 == 15 {
			raw = append(raw, '\n')
		}
	}
	// short lines after long ones reuse the decode buffer
	raw = append(raw, "ab\n\xd1\n"...)
	archive := buildZip(t, entry{name: "export.txt", contents: raw})

	expected, err := charmap.ISO8859_1.NewDecoder().String(string(raw))
	require.NoError(t, err)

	lines := collect(t, NewLineDecoder(bytes.NewReader(archive), WithChunkSize(7)))
	require.Len(t, lines, 8)
	require.Equal(t, expected, strings.Join(lines, ""))
	require.Equal(t, "Ñ\n", lines[7])
}
