package desensitize

import (
	"io"

	"github.com/kochabx/sessionkeeper/log/internal"
)

// Writer masks each write before passing it to the wrapped writer.
type Writer struct {
	out  io.Writer
	hook *Hook
}

func NewWriter(out io.Writer, hook *Hook) *Writer {
	if out == nil || hook == nil {
		panic("desensitize: nil writer or hook")
	}
	return &Writer{out: out, hook: hook}
}

// Write reports len(p) on success so callers never see a short write when
// masking changes the line length.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 || w.hook.Len() == 0 {
		return w.out.Write(p)
	}

	text := string(p)
	masked := w.hook.Desensitize(text)
	if masked == text {
		return w.out.Write(p)
	}

	buf := internal.GetBuffer()
	defer internal.PutBuffer(buf)
	buf.WriteString(masked)
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
