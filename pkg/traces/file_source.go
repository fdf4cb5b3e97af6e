package traces

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const defaultReadSize = 4 << 20 // 4 MB

// fileSource reads traces from a text file, one trace per line:
// a class label followed by comma-separated sample values.
//
//	fixed,0.125,0.5,0.25,0.0
type fileSource struct {
	f       *os.File
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewFileSource opens the named trace file for forward-only reading.
func NewFileSource(fileName string) (Source, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open trace file %s", fileName)
	}
	scanner := bufio.NewScanner(bufio.NewReaderSize(f, defaultReadSize))
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	return &fileSource{f: f, scanner: scanner}, nil
}

func (s *fileSource) Next() *Trace {
	if s.err != nil {
		return nil
	}
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil && err != io.EOF {
				s.err = errors.Wrapf(err, "trace file read failed at line %d", s.line)
			}
			_ = s.f.Close()
			return nil
		}
		s.line++
		line := strings.TrimSpace(s.scanner.Text())
		if len(line) == 0 {
			continue
		}
		tr, err := parseTraceLine(line)
		if err != nil {
			s.err = errors.Wrapf(err, "line %d", s.line)
			_ = s.f.Close()
			return nil
		}
		return tr
	}
}

func (s *fileSource) Err() error { return s.err }

func parseTraceLine(line string) (*Trace, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return nil, errors.Errorf("expected 'label,v0,...', got %d fields", len(fields))
	}
	label := strings.TrimSpace(fields[0])
	if label == "" {
		return nil, errors.New("empty class label")
	}
	samples := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		samples[i] = v
	}
	return &Trace{Class: label, Samples: samples}, nil
}
