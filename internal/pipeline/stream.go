package pipeline

import (
	"bufio"
	"dgtscraper/internal/components/telemetry"
	"dgtscraper/internal/registration"
	"errors"
	"io"
)

// Result is a single parsed line, exactly one of Record and Failure is set.
type Result struct {
	Record  *registration.Record
	Failure *registration.ParseFailure
}

type Stats struct {
	Records  int
	Failures int
	// Skipped counts blank lines, header lines and lines without a VIN.
	Skipped int
}

// lineSource is implemented by archive.LineDecoder and textLines.
type lineSource interface {
	Next() bool
	Line() string
	Err() error
}

// Stream pulls lines from its source one at a time and parses them. Lines
// that fail to parse are yielded as failures, they never stop the stream.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	lines  lineSource
	closer io.Closer
	parser registration.Parser
	tel    telemetry.API

	lineNumber int
	current    Result
	stats      Stats
	err        error
	closed     bool
}

func (p Pipeline) newStream(lines lineSource, closer io.Closer) *Stream {
	return &Stream{
		lines:  lines,
		closer: closer,
		parser: p.parser,
		tel:    p.tel,
	}
}

// Next advances to the next record or failure. It returns false when the
// source is exhausted, fails or the stream is closed.
func (s *Stream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	for s.lines.Next() {
		s.lineNumber++
		record, failure := s.parser.ParseLine(s.lines.Line(), s.lineNumber)
		switch {
		case failure != nil:
			s.stats.Failures++
			s.tel.ReportDebug(report_stream_parse_line, failure.String())
			s.current = Result{Failure: failure}
		case record != nil:
			s.stats.Records++
			s.current = Result{Record: record}
		default:
			s.stats.Skipped++
			continue
		}
		return true
	}

	s.current = Result{}
	s.err = s.lines.Err()
	if s.err == nil {
		s.tel.ReportCount(report_stream_stats, int64(s.stats.Records))
	}
	return false
}

// Result returns the result read by the last call to Next.
func (s *Stream) Result() Result {
	return s.current
}

// Err returns the error that stopped the stream, if any. Parse failures are
// not errors.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) Stats() Stats {
	return s.stats
}

// Close releases the underlying source. It is safe to call at any point and
// more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closer.Close()
}

// Collect drains the stream, splitting records from failures. The stream is
// closed when Collect returns.
func Collect(s *Stream) (records []registration.Record, failures []registration.ParseFailure, err error) {
	for s.Next() {
		r := s.Result()
		if r.Failure != nil {
			failures = append(failures, *r.Failure)
			continue
		}
		records = append(records, *r.Record)
	}
	return records, failures, errors.Join(s.Err(), s.Close())
}

// textLines splits already decoded text into lines, keeping terminators the
// same way archive.LineDecoder does.
type textLines struct {
	r    *bufio.Reader
	line string
	err  error
}

func newTextLines(r io.Reader) *textLines {
	return &textLines{r: bufio.NewReader(r)}
}

func (t *textLines) Next() bool {
	if t.err != nil {
		return false
	}
	line, err := t.r.ReadString('\n')
	if err != nil {
		t.err = err
		if err == io.EOF && line != "" {
			t.line = line
			return true
		}
		return false
	}
	t.line = line
	return true
}

func (t *textLines) Line() string {
	return t.line
}

func (t *textLines) Err() error {
	if t.err == io.EOF {
		return nil
	}
	return t.err
}
