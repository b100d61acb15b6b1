package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter reads answers to interactive questions. An empty answer keeps
// the default shown in brackets.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) line(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func (p *prompter) String(label, def string) string {
	return p.line(label, def)
}

func (p *prompter) Int(label string, def int) int {
	for {
		s := p.line(label, strconv.Itoa(def))
		v, err := strconv.Atoi(s)
		if err == nil && v > 0 {
			return v
		}
		fmt.Fprintln(p.out, "  Please enter a positive number.")
	}
}

func (p *prompter) Bool(label string, def bool) bool {
	d := "y/N"
	if def {
		d = "Y/n"
	}
	fmt.Fprintf(p.out, "%s [%s]: ", label, d)
	input, _ := p.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}
