package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"dgtscraper/internal/components/telemetry"
	"dgtscraper/internal/registration"
	"dgtscraper/internal/scrapers/dgt"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

var baseValues = map[string]string{
	registration.FieldFechaMatriculacion:        "15012024",
	registration.FieldClaseMatricula:            "0",
	registration.FieldVehiculoMarca:             "RENAULT",
	registration.FieldVehiculoModelo:            "CLIO",
	registration.FieldCodigoProcedencia:         "0",
	registration.FieldCodigoTipo:                "40",
	registration.FieldCodPropulsion:             "1",
	registration.FieldCilindrada:                "1461",
	registration.FieldPotencia:                  "8.92",
	registration.FieldTara:                      "1150",
	registration.FieldPesoMaximo:                "1650",
	registration.FieldPlazas:                    "5",
	registration.FieldTransmisiones:             "0",
	registration.FieldTitulares:                 "1",
	registration.FieldLocalidad:                 "LOGROÑO",
	registration.FieldProvincia:                 "LO",
	registration.FieldProvinciaMatriculacion:    "LO",
	registration.FieldTramite:                   "1",
	registration.FieldFechaTramite:              "15012024",
	registration.FieldCodigoPostal:              "26001",
	registration.FieldFechaPrimeraMatriculacion: "15012024",
	registration.FieldNuevo:                     "N",
	registration.FieldPersonaJuridica:           "D",
	registration.FieldServicio:                  "B00",
	registration.FieldCodigoMunicipioINE:        "26089",
	registration.FieldMunicipio:                 "Logroño",
	registration.FieldPotenciaKW:                "66",
	registration.FieldPlazasMaximo:              "5",
	registration.FieldCO2:                       "110",
}

// recordLine renders a record line for vin, overrides replace base values.
func recordLine(vin string, overrides map[string]string) string {
	var b strings.Builder
	for _, f := range registration.Layout {
		value, ok := overrides[f.Name]
		if !ok {
			value = baseValues[f.Name]
		}
		if f.Name == registration.FieldBastidor {
			value = vin
		}
		b.WriteString(value)
		b.WriteString(strings.Repeat(" ", f.Width-len([]rune(value))))
	}
	b.WriteString("\n")
	return b.String()
}

func zipLatin1(t *testing.T, text string) []byte {
	t.Helper()
	encoded, err := charmap.ISO8859_1.NewEncoder().String(text)
	require.NoError(t, err)

	var out bytes.Buffer
	w := zip.NewWriter(&out)
	f, err := w.Create("export_mensual_mat_202401.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte(encoded))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

type fakeSource struct {
	archive []byte
	err     error
	// readErr fails the body once archive has been read
	readErr error
	queries []dgt.Query
	closed  bool
}

func (f *fakeSource) Establish(_ context.Context, q dgt.Query) (io.ReadCloser, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var body io.Reader = bytes.NewReader(f.archive)
	if f.readErr != nil {
		body = io.MultiReader(body, iotest.ErrReader(f.readErr))
	}
	return &trackedReader{Reader: body, source: f}, nil
}

type trackedReader struct {
	io.Reader
	source *fakeSource
}

func (r *trackedReader) Close() error {
	r.source.closed = true
	return nil
}

func newTestPipeline(t *testing.T) Pipeline {
	t.Helper()
	p, err := New(&telemetry.Recorder{})
	require.NoError(t, err)
	return p
}

func TestStreamRecordsEndToEnd(t *testing.T) {
	text := registration.HeaderMarker + " en enero de 2024\n" +
		recordLine("", nil) +
		recordLine("VF1RJA00012345678", nil)
	source := &fakeSource{archive: zipLatin1(t, text)}

	p := newTestPipeline(t)
	query := dgt.Query{Year: 2024, Month: time.January}
	stream, err := p.StreamRecords(context.Background(), source, query)
	require.NoError(t, err)

	records, failures, err := Collect(stream)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Len(t, records, 1)
	require.Equal(t, []dgt.Query{query}, source.queries)
	require.True(t, source.closed)

	record := records[0]
	require.Equal(t, "VF1RJA00012345678", record.VIN)
	require.Equal(t, "2024-01-15", record.RegistrationDate.String())
	require.Equal(t, "LOGROÑO", record.Locality)
	require.Equal(t, "Logroño", record.Municipality)
	require.Equal(t, 500.0, record.PayloadCapacity())
	require.Equal(t, Stats{Records: 1, Skipped: 2}, stream.Stats())
}

func TestStreamRecordsFaultIsolation(t *testing.T) {
	vins := []string{"VIN00000000000000001", "VIN00000000000000002", "VIN00000000000000003", "VIN00000000000000004"}
	var text strings.Builder
	for i, vin := range vins {
		if i == 2 {
			text.WriteString(recordLine("VIN0000000000000BAD", map[string]string{
				registration.FieldCilindrada: "12X4",
			}))
		}
		text.WriteString(recordLine(vin, nil))
	}

	p := newTestPipeline(t)
	stream, err := p.StreamRecords(
		context.Background(),
		&fakeSource{archive: zipLatin1(t, text.String())},
		dgt.Query{Year: 2024, Month: time.January},
	)
	require.NoError(t, err)
	defer stream.Close()

	var order []string
	for stream.Next() {
		r := stream.Result()
		if r.Failure != nil {
			require.Nil(t, r.Record)
			require.Equal(t, 3, r.Failure.LineNumber)
			require.Equal(t, "VIN0000000000000BAD", r.Failure.Fields[registration.FieldBastidor])
			order = append(order, "failure")
			continue
		}
		order = append(order, r.Record.VIN)
	}
	require.NoError(t, stream.Err())

	require.Equal(t, []string{
		"VIN00000000000000001",
		"VIN00000000000000002",
		"failure",
		"VIN00000000000000003",
		"VIN00000000000000004",
	}, order)
	require.Equal(t, Stats{Records: 4, Failures: 1}, stream.Stats())
}

func TestStreamRecordsEstablishError(t *testing.T) {
	domainErr := &dgt.DomainError{Message: "No existen datos"}
	tel := &telemetry.Recorder{}
	p, err := New(tel)
	require.NoError(t, err)

	_, err = p.StreamRecords(
		context.Background(),
		&fakeSource{err: domainErr},
		dgt.Query{Year: 2024, Month: time.January},
	)
	var target *dgt.DomainError
	require.True(t, errors.As(err, &target))

	warnings := tel.Reports("warning")
	require.Len(t, warnings, 1)
	require.Equal(t, "pipeline: pipeline.stream-records", warnings[0].ID)
}

func TestStreamRecordsCorruptArchive(t *testing.T) {
	archive := zipLatin1(t, recordLine("VIN00000000000000001", nil))
	p := newTestPipeline(t)

	stream, err := p.StreamRecords(
		context.Background(),
		// cut a few bytes into the compressed data of the entry
		&fakeSource{archive: archive[:70]},
		dgt.Query{Year: 2024, Month: time.January},
	)
	require.NoError(t, err)

	_, _, err = Collect(stream)
	require.Error(t, err)
}

func TestStreamRecordsDroppedConnection(t *testing.T) {
	archive := zipLatin1(t, recordLine("VIN00000000000000001", nil))
	reset := errors.New("connection reset by peer")
	p := newTestPipeline(t)

	stream, err := p.StreamRecords(
		context.Background(),
		&fakeSource{archive: archive[:70], readErr: reset},
		dgt.Query{Year: 2024, Month: time.January},
	)
	require.NoError(t, err)

	_, _, err = Collect(stream)
	var target *dgt.TransportError
	require.True(t, errors.As(err, &target))
	require.Equal(t, dgt.StepDownload, target.Step)
	require.ErrorIs(t, err, reset)

	// a truncated body that ends cleanly is a corrupt archive, not a transport failure
	stream, err = p.StreamRecords(
		context.Background(),
		&fakeSource{archive: archive[:70]},
		dgt.Query{Year: 2024, Month: time.January},
	)
	require.NoError(t, err)
	_, _, err = Collect(stream)
	require.Error(t, err)
	require.False(t, errors.As(err, &target))
}

func TestDownloadToPathDroppedConnection(t *testing.T) {
	archive := zipLatin1(t, recordLine("VIN00000000000000001", nil))
	p := newTestPipeline(t)

	_, err := p.DownloadToPath(
		context.Background(),
		&fakeSource{archive: archive[:70], readErr: errors.New("unexpected EOF from proxy")},
		dgt.Query{Year: 2024, Month: time.January},
		filepath.Join(t.TempDir(), "out.txt"),
	)
	var target *dgt.TransportError
	require.True(t, errors.As(err, &target))
}

func TestStreamCloseStopsIteration(t *testing.T) {
	text := recordLine("VIN00000000000000001", nil) + recordLine("VIN00000000000000002", nil)
	source := &fakeSource{archive: zipLatin1(t, text)}
	p := newTestPipeline(t)

	stream, err := p.StreamRecords(context.Background(), source, dgt.Query{Year: 2024, Month: time.January})
	require.NoError(t, err)

	require.True(t, stream.Next())
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.False(t, stream.Next())
	require.True(t, source.closed)
}

func TestParseFile(t *testing.T) {
	text := registration.HeaderMarker + "\n" +
		recordLine("VIN00000000000000001", nil) +
		"\n" +
		recordLine("VIN00000000000000002", map[string]string{registration.FieldCO2: ""})
	// the last line may come without its terminator
	text = strings.TrimSuffix(text, "\n")

	p := newTestPipeline(t)
	records, failures, err := Collect(p.ParseFile(strings.NewReader(text)))
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].CO2)
	require.Nil(t, records[1].CO2)
}

func TestParseLatin1File(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(recordLine("VIN00000000000000001", nil))
	require.NoError(t, err)

	p := newTestPipeline(t)
	records, failures, err := Collect(p.ParseLatin1File(strings.NewReader(encoded)))
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Len(t, records, 1)
	require.Equal(t, "LOGROÑO", records[0].Locality)
}

func TestDownloadToPath(t *testing.T) {
	text := registration.HeaderMarker + "\n" + recordLine("VIN00000000000000001", nil)
	source := &fakeSource{archive: zipLatin1(t, text)}
	p := newTestPipeline(t)
	dir := t.TempDir()

	table := []struct {
		name     string
		path     string
		query    dgt.Query
		expected string
	}{
		{
			name:     "directory",
			path:     dir,
			query:    dgt.Query{Year: 2024, Month: time.January},
			expected: filepath.Join(dir, "matriculaciones-2024-01.txt"),
		},
		{
			name:     "daily directory",
			path:     dir,
			query:    dgt.Query{Year: 2024, Month: time.January, Day: 9},
			expected: filepath.Join(dir, "matriculaciones-2024-01-09.txt"),
		},
		{
			name:     "file",
			path:     filepath.Join(dir, "out.txt"),
			query:    dgt.Query{Year: 2024, Month: time.January},
			expected: filepath.Join(dir, "out.txt"),
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			written, err := p.DownloadToPath(context.Background(), source, row.query, row.path)
			require.NoError(t, err)
			require.Equal(t, row.expected, written)

			contents, err := os.ReadFile(written)
			require.NoError(t, err)
			require.Equal(t, text, string(contents))
		})
	}
}

func TestDownloadToPathEstablishError(t *testing.T) {
	p := newTestPipeline(t)
	path := filepath.Join(t.TempDir(), "out.txt")

	_, err := p.DownloadToPath(
		context.Background(),
		&fakeSource{err: &dgt.TransportError{Step: "download", StatusCode: 503}},
		dgt.Query{Year: 2024, Month: time.January},
		path,
	)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestDigest(t *testing.T) {
	text := recordLine("VIN00000000000000001", nil) +
		recordLine("VIN0000000000000BAD", map[string]string{registration.FieldPlazas: "X"}) +
		recordLine("VIN00000000000000002", nil)
	p := newTestPipeline(t)

	first := NewDigest()
	require.NoError(t, first.Consume(p.ParseFile(strings.NewReader(text))))
	require.Equal(t, 2, first.Count())
	require.Len(t, first.Failures(), 1)
	require.Len(t, first.Sum(), 32)

	second := NewDigest()
	require.NoError(t, second.Consume(p.ParseFile(strings.NewReader(text))))
	require.Equal(t, first.Sum(), second.Sum())

	reordered := recordLine("VIN00000000000000002", nil) + recordLine("VIN00000000000000001", nil)
	third := NewDigest()
	require.NoError(t, third.Consume(p.ParseFile(strings.NewReader(reordered))))
	require.NotEqual(t, first.Sum(), third.Sum())
}
