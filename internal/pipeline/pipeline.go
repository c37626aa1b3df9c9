// Package pipeline connects the portal session, the archive decoder and the
// record parser into pull-based streams of parsed lines.
package pipeline

import (
	"bufio"
	"context"
	"dgtscraper/internal/archive"
	"dgtscraper/internal/components/assert"
	"dgtscraper/internal/components/telemetry"
	"dgtscraper/internal/registration"
	"dgtscraper/internal/scrapers/dgt"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding/charmap"
)

const (
	report_pipeline_stream   = "pipeline.stream-records"
	report_pipeline_download = "pipeline.download"
	report_stream_parse_line = "stream.parse-line"
	report_stream_stats      = "stream.stats"
)

var tracer = otel.Tracer("dgtscraper/pipeline")

// Source opens the archive download for a period, dgt.Client implements it.
type Source interface {
	Establish(ctx context.Context, q dgt.Query) (io.ReadCloser, error)
}

type Pipeline struct {
	parser registration.Parser
	tel    telemetry.API
}

// New initializes the process-wide schema and returns a pipeline parsing
// with it.
func New(tel telemetry.API) (Pipeline, error) {
	assert.NotNil(tel)

	schema, err := registration.InitSchema()
	if err != nil {
		return Pipeline{}, err
	}
	parser, err := registration.NewParser(schema)
	if err != nil {
		return Pipeline{}, err
	}
	return Pipeline{
		parser: parser,
		tel:    telemetry.NewScopedAPI("pipeline", tel),
	}, nil
}

// StreamRecords downloads the archive for q and returns a stream over its
// parsed lines. Nothing beyond the form session is read until the stream
// is advanced. The caller must close the stream.
func (p Pipeline) StreamRecords(ctx context.Context, source Source, q dgt.Query) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "StreamRecords")
	defer span.End()
	span.SetAttributes(attribute.String("query", q.String()))

	body, err := source.Establish(ctx, q)
	if err != nil {
		p.tel.ReportWarning(report_pipeline_stream, err, q.String())
		return nil, err
	}
	body = transportBody{body}
	return p.newStream(archive.NewLineDecoder(body), body), nil
}

// ParseFile parses UTF-8 text, such as a file written by DownloadToPath.
func (p Pipeline) ParseFile(r io.Reader) *Stream {
	return p.newStream(newTextLines(r), closerOf(r))
}

// ParseLatin1File parses text in the encoding DGT publishes, such as the
// entry of an archive extracted by hand.
func (p Pipeline) ParseLatin1File(r io.Reader) *Stream {
	decoded := charmap.ISO8859_1.NewDecoder().Reader(r)
	return p.newStream(newTextLines(decoded), closerOf(r))
}

// DownloadToPath writes the decoded text of the archive for q to path and
// returns the path written. An empty path or a directory gets the default
// file name for the period.
func (p Pipeline) DownloadToPath(ctx context.Context, source Source, q dgt.Query, path string) (string, error) {
	path, err := resolvePath(path, q)
	if err != nil {
		return "", err
	}

	body, err := source.Establish(ctx, q)
	if err != nil {
		p.tel.ReportWarning(report_pipeline_download, err, q.String())
		return "", err
	}
	defer body.Close()
	body = transportBody{body}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	lines := archive.NewLineDecoder(body)
	count := 0
	for lines.Next() {
		_, err = w.WriteString(lines.Line())
		if err != nil {
			return "", err
		}
		count++
	}
	if err := lines.Err(); err != nil {
		p.tel.ReportBroken(report_pipeline_download, err, q.String())
		return "", fmt.Errorf("download %s: %w", q, err)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	p.tel.ReportCount(report_pipeline_download, int64(count))
	return path, nil
}

// DefaultFileName is the name DownloadToPath uses when given no file.
func DefaultFileName(q dgt.Query) string {
	return fmt.Sprintf("matriculaciones-%s.txt", q)
}

func resolvePath(path string, q dgt.Query) (string, error) {
	if path == "" {
		return filepath.Abs(DefaultFileName(q))
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return filepath.Join(path, DefaultFileName(q)), nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return path, nil
}

// transportBody reports a failure reading the response body as a
// dgt.TransportError, keeping a dropped connection apart from a corrupt
// archive.
type transportBody struct {
	io.ReadCloser
}

func (b transportBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	var transportErr *dgt.TransportError
	if errors.As(err, &transportErr) {
		return n, err
	}
	return n, &dgt.TransportError{Step: dgt.StepDownload, Err: err}
}

func closerOf(r io.Reader) io.Closer {
	if c, ok := r.(io.Closer); ok {
		return c
	}
	return io.NopCloser(nil)
}
