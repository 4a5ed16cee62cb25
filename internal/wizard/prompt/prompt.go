// Package prompt provides simple terminal prompts for the setup wizard.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const lineWidth = 70

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Prompter.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Stdio returns a Prompter on the process's standard streams.
func Stdio() *Prompter {
	return New(os.Stdin, os.Stdout)
}

// Out returns the writer questions go to.
func (p *Prompter) Out() io.Writer {
	return p.out
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		// A final answer without a newline still counts.
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadLine reads a single line with optional default value.
func (p *Prompter) ReadLine(prompt string, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}

	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return defaultVal, nil
	}
	return line, nil
}

// ReadLineValidated reads with validation function, retrying on failure.
func (p *Prompter) ReadLineValidated(prompt string, defaultVal string, validate func(string) error) (string, error) {
	for {
		value, err := p.ReadLine(prompt, defaultVal)
		if err != nil {
			return "", err
		}

		if validate != nil {
			if err := validate(value); err != nil {
				fmt.Fprintf(p.out, "  Error: %v\n", err)
				continue
			}
		}
		return value, nil
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(prompt string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	for {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, hint)

		line, err := p.readLine()
		if err != nil {
			return false, err
		}

		switch strings.ToLower(line) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintln(p.out, "  Please enter 'y' or 'n'")
		}
	}
}

// Select shows a numbered menu and returns the selected index.
func (p *Prompter) Select(prompt string, options []string, defaultIdx int) (int, error) {
	fmt.Fprintln(p.out)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		fmt.Fprintf(p.out, "%s%d. %s\n", marker, i+1, opt)
	}
	fmt.Fprintln(p.out)

	defaultStr := ""
	if defaultIdx >= 0 && defaultIdx < len(options) {
		defaultStr = strconv.Itoa(defaultIdx + 1)
	}

	for {
		input, err := p.ReadLine(prompt, defaultStr)
		if err != nil {
			return 0, err
		}

		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(options) {
			fmt.Fprintf(p.out, "  Please enter a number between 1 and %d\n", len(options))
			continue
		}

		return num - 1, nil
	}
}

// PrintHeader prints a section header with title and description.
func (p *Prompter) PrintHeader(title, description string) {
	fmt.Fprintln(p.out)
	p.PrintDivider()
	fmt.Fprintln(p.out, title)
	p.PrintDivider()
	if description != "" {
		fmt.Fprintln(p.out, description)
		fmt.Fprintln(p.out)
	}
}

// PrintDivider prints a horizontal line.
func (p *Prompter) PrintDivider() {
	fmt.Fprintln(p.out, strings.Repeat("-", lineWidth))
}

// PrintBanner prints the application banner.
func (p *Prompter) PrintBanner(title, subtitle string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, strings.Repeat("=", lineWidth))
	fmt.Fprintln(p.out, center(title))
	fmt.Fprintln(p.out, strings.Repeat("=", lineWidth))
	if subtitle != "" {
		fmt.Fprintln(p.out, center(subtitle))
	}
	fmt.Fprintln(p.out)
}

func center(s string) string {
	if padding := (lineWidth - len(s)) / 2; padding > 0 {
		return strings.Repeat(" ", padding) + s
	}
	return s
}

// PrintSuccess prints a success message.
func (p *Prompter) PrintSuccess(message string) {
	fmt.Fprintf(p.out, "[OK] %s\n", message)
}

// PrintError prints an error message.
func (p *Prompter) PrintError(message string) {
	fmt.Fprintf(p.out, "[ERROR] %s\n", message)
}

// PrintWarning prints a warning message.
func (p *Prompter) PrintWarning(message string) {
	fmt.Fprintf(p.out, "[WARNING] %s\n", message)
}

// PrintInfo prints an informational message.
func (p *Prompter) PrintInfo(message string) {
	fmt.Fprintf(p.out, "[INFO] %s\n", message)
}
