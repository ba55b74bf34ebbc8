package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrQuit is returned when the user types "q" at any prompt.
var ErrQuit = errors.New("quit")

// Prompter reads line-oriented answers from a terminal.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Out is where prompts and screens are written.
func (p *Prompter) Out() io.Writer { return p.out }

// Printf writes to the prompter's output.
func (p *Prompter) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Ask prints label and returns the trimmed answer. End of input is io.EOF.
func (p *Prompter) Ask(label string) (string, error) {
	p.Printf("%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	answer := strings.TrimSpace(p.in.Text())
	if strings.EqualFold(answer, "q") {
		return "", ErrQuit
	}
	return answer, nil
}

// AskDefault is Ask with a value used when the answer is empty.
func (p *Prompter) AskDefault(label, def string) (string, error) {
	if def == "" {
		return p.Ask(label)
	}
	answer, err := p.Ask(fmt.Sprintf("%s [%s]", label, def))
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskInt repeats the question until an integer within [min, max] is given.
func (p *Prompter) AskInt(label string, min, max int) (int, error) {
	for {
		answer, err := p.Ask(label)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= min && n <= max {
			return n, nil
		}
		p.Printf("enter a number from %d to %d\n", min, max)
	}
}

// Confirm asks a yes/no question; anything but y/yes is no.
func (p *Prompter) Confirm(label string) (bool, error) {
	answer, err := p.Ask(label + " (y/n)")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}
