package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	infoPrefix    = color.New(color.FgBlue).SprintFunc()
	successPrefix = color.New(color.FgGreen).SprintFunc()
	warnPrefix    = color.New(color.FgYellow).SprintFunc()
	errorPrefix   = color.New(color.FgRed).SprintFunc()
	headerColor   = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// printer writes level-prefixed lines; errors go to errOut.
type printer struct {
	out, errOut io.Writer
}

func (p *printer) Info(format string, args ...any) {
	fmt.Fprintln(p.out, infoPrefix("[INFO]")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, successPrefix("[SUCCESS]")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, warnPrefix("[WARN]")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Error(msg string) {
	fmt.Fprintln(p.errOut, errorPrefix("[ERROR]")+" "+msg)
}
