package log

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxLineSize is the size above which a line of the command output is clipped
const maxLineSize = 64 * 1024

type execOption struct {
	outl, errl zapcore.Level
	outf, errf Filter
}

// ExecOption is an option that can be passed to Exec()
type ExecOption func(eo *execOption)

// StdoutLevel sets the level at which stdout should be logged
func StdoutLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) {
		eo.outl = l
	}
}

// StderrLevel sets the level at which stderr should be logged
func StderrLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) {
		eo.errl = l
	}
}

// Filter receives a line of output and the default level and returns a modified line with a new level.
// If the last result is true, the line is ignored
type Filter interface {
	Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool)
}

// StdoutFilter sets the Filter applied to stdout lines
func StdoutFilter(f Filter) ExecOption {
	return func(eo *execOption) {
		eo.outf = f
	}
}

// StderrFilter sets the Filter applied to stderr lines
func StderrFilter(f Filter) ExecOption {
	return func(eo *execOption) {
		eo.errf = f
	}
}

// Exec runs the command and sends its outputs to Logger(ctx), line by line.
// stdout is logged at Info level and stderr at Warn level by default,
// unless cmd.Stdout or cmd.Stderr are already set.
// On ctx cancellation, the process is killed and ctx.Err() is returned.
func Exec(ctx context.Context, cmd *exec.Cmd, options ...ExecOption) error {
	opts := execOption{
		outl: zapcore.InfoLevel,
		errl: zapcore.WarnLevel,
	}
	for _, o := range options {
		o(&opts)
	}

	logger := Logger(ctx).With(zap.String("cmd", cmd.Path))
	type pipe struct {
		r io.Reader
		l lineLogger
	}
	var pipes []pipe

	if cmd.Stdout == nil {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("Exec.StdoutPipe: %w", err)
		}
		pipes = append(pipes, pipe{r, lineLogger{logger, opts.outl, opts.outf}})
	}
	if cmd.Stderr == nil {
		r, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("Exec.StderrPipe: %w", err)
		}
		pipes = append(pipes, pipe{r, lineLogger{logger, opts.errl, opts.errf}})
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("Exec.Start: %w", err)
	}

	wg := sync.WaitGroup{}
	for _, p := range pipes {
		wg.Add(1)
		go func(p pipe) {
			defer wg.Done()
			p.l.consume(p.r)
		}(p)
	}

	done := make(chan error, 1)
	go func() {
		// Pipes must be drained before Wait closes them
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil {
			logger.Sugar().Warnf("kill: %v", err)
		}
		<-done
		return ctx.Err()
	}
}

type lineLogger struct {
	*zap.Logger
	level  zapcore.Level
	filter Filter
}

// consume logs every line of r. Lines longer than maxLineSize are clipped.
func (l lineLogger) consume(r io.Reader) {
	br := bufio.NewReaderSize(r, maxLineSize)
	clipped := false
	for {
		line, err := br.ReadSlice('\n')
		switch {
		case err == bufio.ErrBufferFull:
			if !clipped {
				l.print(fmt.Sprintf("%s ...[Message clipped]", line))
				clipped = true
			}
			continue
		case clipped:
			// end of a clipped line
			clipped = false
		case len(line) > 0:
			l.print(string(line))
		}
		if err != nil {
			return
		}
	}
}

func (l lineLogger) print(msg string) {
	msg = strings.TrimRight(msg, "\r\n")
	level := l.level
	if l.filter != nil {
		var ignore bool
		if msg, level, ignore = l.filter.Filter(msg, level); ignore {
			return
		}
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write()
	}
}
