package logger

import (
	"io"
	"log"
)

func Null() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

func Default() *log.Logger {
	return log.Default()
}

// Or returns l, or the default logger when l is nil.
func Or(l *log.Logger) *log.Logger {
	if l == nil {
		return Default()
	}
	return l
}
