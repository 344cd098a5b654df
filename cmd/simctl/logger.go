package main

import (
	"github.com/pterm/pterm"
)

// Logger prints simulation logs with pterm printers.
type Logger struct {
	DebugLevel int
}

func NewLogger(debugLevel int) *Logger {
	if debugLevel > 0 {
		pterm.EnableDebugMessages()
	}

	return &Logger{DebugLevel: debugLevel}
}

func (l *Logger) Debug(level int, format string, args ...interface{}) {
	if level > l.DebugLevel {
		return
	}

	pterm.Debug.Printfln(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	pterm.Info.Printfln(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	pterm.Error.Printfln(format, args...)
}
