package process

import (
	"io"
	"os"
	"sync"
)

// logCapture keeps the tail of a child's combined stdout and stderr.
type logCapture struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newLogCapture(limit int) *logCapture {
	return &logCapture{limit: limit}
}

// Write never blocks and never fails, so the child's pipe is always drained.
func (lc *logCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.buf = append(lc.buf, p...)
	if over := len(lc.buf) - lc.limit; over > 0 {
		lc.buf = append(lc.buf[:0], lc.buf[over:]...)
	}
	return len(p), nil
}

func (lc *logCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return string(lc.buf)
}

// readTail returns up to limit trailing bytes of the file at path.
func readTail(path string, limit int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - int64(limit)
	if offset < 0 {
		offset = 0
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return ""
	}
	return string(buf)
}
