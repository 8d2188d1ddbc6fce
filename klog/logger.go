// Package klog provides the small leveled logger shared by every
// subsystem of the kdeconnect engine (discovery, payload transport,
// device sessions, the CLI daemon).
package klog

import (
	"io"
	"log"
	"os"
)

const (
	LevelSilent = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger is implemented by basicLogger; hosts may substitute their own.
type Logger interface {
	Debug(v ...interface{})
	Debugf(f string, v ...interface{})
	Info(v ...interface{})
	Infof(f string, v ...interface{})
	Error(v ...interface{})
	Errorf(f string, v ...interface{})
}

var _ Logger = &basicLogger{}

type basicLogger struct {
	debug *log.Logger
	info  *log.Logger
	err   *log.Logger
}

// New builds a Logger writing to stdout, gated by level, with each line
// prefixed by prepend (e.g. "(discovery) ").
func New(level int, prepend string) *basicLogger {
	output := os.Stdout

	logErr, logInfo, logDebug := func() (io.Writer, io.Writer, io.Writer) {
		if level >= LevelDebug {
			return output, output, output
		}
		if level >= LevelInfo {
			return output, output, io.Discard
		}
		if level >= LevelError {
			return output, io.Discard, io.Discard
		}
		return io.Discard, io.Discard, io.Discard
	}()

	return &basicLogger{
		debug: log.New(logDebug, "DEBUG: "+prepend, log.Ldate|log.Ltime),
		info:  log.New(logInfo, "INFO: "+prepend, log.Ldate|log.Ltime),
		err:   log.New(logErr, "ERROR: "+prepend, log.Ldate|log.Ltime),
	}
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return New(LevelSilent, "") }

func (l *basicLogger) Debug(v ...interface{})            { l.debug.Println(v...) }
func (l *basicLogger) Debugf(f string, v ...interface{}) { l.debug.Printf(f, v...) }
func (l *basicLogger) Info(v ...interface{})             { l.info.Println(v...) }
func (l *basicLogger) Infof(f string, v ...interface{})  { l.info.Printf(f, v...) }
func (l *basicLogger) Error(v ...interface{})            { l.err.Println(v...) }
func (l *basicLogger) Errorf(f string, v ...interface{}) { l.err.Printf(f, v...) }
