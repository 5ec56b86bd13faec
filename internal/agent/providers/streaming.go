// Package providers implements the LLM wire clients: one file per vendor
// plus a shared SSE decoder used by all of them.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

// maxSSEBuffer is the safety-valve cap on undelimited SSE bytes. A stream
// that never emits a \n\n boundary within this many bytes is treated as
// malformed and ends the stream with a synthetic Done.
const maxSSEBuffer = 1 << 20 // 1 MiB

// sseEventParser turns one SSE "data: ..." payload into zero or more
// StreamChunks. Implemented per vendor (parseAnthropicSSE, parseOpenAISSE,
// parseGeminiSSE).
type sseEventParser func(data []byte) []agent.StreamChunk

// driveSSEStream reads body in arbitrary-sized chunks, buffers bytes until a
// literal "\n\n" event boundary, decodes UTF-8 only at that boundary (never
// mid-chunk, since multi-byte runes can straddle an HTTP read), and forwards
// parsed chunks to out. A read error or buffer overflow ends the stream with
// a synthetic Done{EndTurn, zero usage} rather than propagating the error,
// matching the decoder's "never leave the caller hanging" contract.
func driveSSEStream(ctx context.Context, body io.Reader, parse sseEventParser, out chan<- agent.StreamChunk, logger *slog.Logger) {
	defer close(out)

	var buf bytes.Buffer
	r := bufio.NewReaderSize(body, 32*1024)
	readBuf := make([]byte, 32*1024)

	send := func(c agent.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		n, err := r.Read(readBuf)
		if n > 0 {
			buf.Write(readBuf[:n])

			if buf.Len() > maxSSEBuffer {
				if logger != nil {
					logger.Error("sse buffer overflow, aborting stream", "limit", maxSSEBuffer)
				}
				send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: models.StopEndTurn})
				return
			}

			for {
				idx := bytes.Index(buf.Bytes(), []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := make([]byte, idx)
				copy(event, buf.Bytes()[:idx])
				buf.Next(idx + 2)

				data := extractDataLine(event)
				if len(data) == 0 {
					continue
				}
				for _, chunk := range parse(data) {
					if !send(chunk) {
						return
					}
				}
			}
		}

		if err != nil {
			if err != io.EOF && logger != nil {
				logger.Warn("sse read error", "error", err)
			}
			if err != io.EOF {
				send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: models.StopEndTurn})
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// extractDataLine scans an event block for the first "data: "-prefixed line
// and returns the remainder. SSE lines are separated by a single \n; the
// event itself was already isolated at a \n\n boundary so this split is safe.
func extractDataLine(eventBlock []byte) []byte {
	lines := bytes.Split(eventBlock, []byte("\n"))
	for _, line := range lines {
		if rest, ok := cutPrefix(line, []byte("data: ")); ok {
			return rest
		}
	}
	return nil
}

func cutPrefix(s, prefix []byte) ([]byte, bool) {
	if len(s) < len(prefix) || !bytes.Equal(s[:len(prefix)], prefix) {
		return nil, false
	}
	return s[len(prefix):], true
}
