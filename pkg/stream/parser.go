package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Decoder turns one raw stdout line into normalized events. Satisfied by the
// agentproc back-ends.
type Decoder interface {
	DecodeLine(line []byte) ([]types.AgentEvent, error)
}

// Parser pulls newline-delimited events off a CLI's stdout. Partial lines are
// buffered across reads by the underlying reader, so a chunk boundary in the
// middle of a JSON record never corrupts the stream. A single malformed line
// is logged and skipped; it never aborts the turn.
type Parser struct {
	r       *bufio.Reader
	dec     Decoder
	queue   []types.AgentEvent
	skipped int
}

// NewParser wraps a raw stdout reader with a back-end decoder.
func NewParser(r io.Reader, dec Decoder) *Parser {
	return &Parser{
		r:   bufio.NewReaderSize(r, 64*1024),
		dec: dec,
	}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (p *Parser) Next(ctx context.Context) (*types.AgentEvent, error) {
	for {
		if len(p.queue) > 0 {
			ev := p.queue[0]
			p.queue = p.queue[1:]
			return &ev, nil
		}

		line, err := p.r.ReadBytes('\n')
		if len(line) > 0 {
			p.decodeInto(ctx, line)
		}
		if err != nil {
			if len(p.queue) > 0 {
				continue
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// Skipped reports how many malformed lines were dropped.
func (p *Parser) Skipped() int { return p.skipped }

func (p *Parser) decodeInto(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	events, err := p.dec.DecodeLine(line)
	if err != nil {
		p.skipped++
		logging.Warn(ctx, "stream.line_skipped", map[string]interface{}{
			"error": err.Error(),
			"bytes": len(line),
		})
		return
	}
	p.queue = append(p.queue, events...)
}
