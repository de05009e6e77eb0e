package cli

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	isTerminal = term.IsTerminal
	makeRaw    = term.MakeRaw
	restore    = term.Restore
)

// lineReader reads one command line at a time.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	sc *bufio.Scanner
	w  io.Writer
	// prompt is written before each line
	prompt func() string
}

func (s *scannerReader) ReadLine() (string, error) {
	io.WriteString(s.w, s.prompt())
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

type termReader struct {
	t      *term.Terminal
	prompt func() string
}

func (r *termReader) ReadLine() (string, error) {
	r.t.SetPrompt(r.prompt())
	return r.t.ReadLine()
}

// openInput picks line editing with history when stdin is a terminal and a
// plain scanner otherwise. The returned writer must be used for all output
// while the terminal is in raw mode; done restores it.
func openInput(in *os.File, out io.Writer, prompt func() string) (lineReader, io.Writer, func(), error) {
	fd := int(in.Fd())
	if !isTerminal(fd) {
		return &scannerReader{sc: bufio.NewScanner(in), w: out, prompt: prompt}, out, func() {}, nil
	}
	state, err := makeRaw(fd)
	if err != nil {
		return nil, nil, nil, err
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt())
	return &termReader{t: t, prompt: prompt}, t, func() { _ = restore(fd, state) }, nil
}
