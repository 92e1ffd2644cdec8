package log

import "io"

// MultiWriter fans each formatted entry out to every attached appender.
// Unlike io.MultiWriter it keeps writing after an appender fails and
// reports the last error once the rest have seen the entry.
type MultiWriter struct {
	appenders []io.Writer
}

func NewMultiWriter(appenders ...io.Writer) *MultiWriter {
	return &MultiWriter{appenders: appenders}
}

// Add attaches another appender and returns the writer for chaining.
func (m *MultiWriter) Add(w io.Writer) *MultiWriter {
	m.appenders = append(m.appenders, w)
	return m
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	var err error
	for _, a := range m.appenders {
		if _, e := a.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}
