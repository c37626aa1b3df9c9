package pipeline

import (
	"crypto/md5"
	"dgtscraper/internal/registration"
	"encoding/hex"
	"encoding/json"
	"hash"
)

// Digest accumulates an MD5 checksum over the records of a stream, used to
// check that two runs over the same period produced the same data.
type Digest struct {
	hash     hash.Hash
	count    int
	failures []registration.ParseFailure
}

func NewDigest() *Digest {
	return &Digest{hash: md5.New()}
}

// Add feeds the JSON of record, with its keys sorted, into the checksum.
func (d *Digest) Add(record registration.Record) error {
	document, err := sortedJSON(record)
	if err != nil {
		return err
	}
	d.hash.Write(document)
	d.count++
	return nil
}

// Consume adds every record of the stream and keeps its failures. The
// stream is closed when Consume returns.
func (d *Digest) Consume(s *Stream) error {
	defer s.Close()
	for s.Next() {
		r := s.Result()
		if r.Failure != nil {
			d.failures = append(d.failures, *r.Failure)
			continue
		}
		if err := d.Add(*r.Record); err != nil {
			return err
		}
	}
	return s.Err()
}

func (d *Digest) Sum() string {
	return hex.EncodeToString(d.hash.Sum(nil))
}

func (d *Digest) Count() int {
	return d.count
}

func (d *Digest) Failures() []registration.ParseFailure {
	return d.failures
}

func sortedJSON(record registration.Record) ([]byte, error) {
	document, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	// maps are marshalled with sorted keys
	var fields map[string]any
	if err := json.Unmarshal(document, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}
