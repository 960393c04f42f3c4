package keystroke

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// eventSchema describes one line of a recording.
const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["t"],
  "properties": {
    "t":     {"type": "number"},
    "vk":    {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "press": {"type": "boolean"}
  },
  "additionalProperties": false
}`

const eventSchemaURL = "gse://schema/key-event.json"

// ErrOutOfOrder is returned when a recording goes backwards in time.
var ErrOutOfOrder = errors.New("event timestamp precedes previous event")

// Source reads a recording of key events, one JSON object per line.
// Blank lines and lines starting with '#' are ignored. A record without a
// "press" field is treated as a key-down.
type Source struct {
	scanner *bufio.Scanner
	closer  io.Closer
	schema  *jsonschema.Schema
	line    int
	last    float64
	started bool
}

// NewSource creates a Source reading from r.
func NewSource(r io.Reader) (*Source, error) {
	schema, err := compileEventSchema()
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	s := &Source{scanner: sc, schema: schema}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// OpenSource opens a recording file. A path of "-" reads standard input.
func OpenSource(path string) (*Source, error) {
	if path == "-" {
		return NewSource(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	s, err := NewSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func compileEventSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	schema, err := compiler.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return schema, nil
}

// Next returns the next event. It returns io.EOF when the recording is exhausted.
func (s *Source) Next() (Event, error) {
	for s.scanner.Scan() {
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Event{}, fmt.Errorf("line %d: decode: %w", s.line, err)
		}
		if err := s.schema.Validate(doc); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", s.line, err)
		}

		ev := Event{Press: true}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Event{}, fmt.Errorf("line %d: decode: %w", s.line, err)
		}
		if s.started && ev.At < s.last {
			return Event{}, fmt.Errorf("line %d: %w", s.line, ErrOutOfOrder)
		}
		s.started = true
		s.last = ev.At
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read recording: %w", err)
	}
	return Event{}, io.EOF
}

// Run delivers every event to fn in recording order until the recording ends,
// fn returns an error, or ctx is cancelled.
func (s *Source) Run(ctx context.Context, fn func(Event) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Close releases the underlying reader if it is closable.
func (s *Source) Close() error {
	if s.closer != nil && s.closer != os.Stdin {
		return s.closer.Close()
	}
	return nil
}

// WriteRecording writes events in the format read by Source.
func WriteRecording(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
	return nil
}
