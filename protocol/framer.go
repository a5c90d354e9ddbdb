package protocol

import (
	"fmt"
	"io"
	"strings"
)

// Frame concatenates one tick's lines, each terminated by CRLF.
func Frame(lines []string) []byte {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString(LineTerminator)
	}
	return []byte(b.String())
}

// Chunk splits buf into consecutive pieces of size bytes. The final piece is
// short when len(buf) is not a multiple of size. The pieces alias buf.
func Chunk(buf []byte, size int) [][]byte {
	if size <= 0 || len(buf) == 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := start + size
		if end > len(buf) {
			end = len(buf)
		}
		chunks = append(chunks, buf[start:end])
	}
	return chunks
}

// WriteChunks writes buf to w in ChunkSize pieces, in order, one Write call
// per chunk. It stops at the first failed write and returns the number of
// chunks written before it.
func WriteChunks(w io.Writer, buf []byte) (int, error) {
	chunks := Chunk(buf, ChunkSize)
	for i, chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return i, fmt.Errorf("write chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return len(chunks), nil
}
