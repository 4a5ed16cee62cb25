package prompt

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return New(strings.NewReader(input), out), out
}

func TestReadLine(t *testing.T) {
	p, out := newTestPrompter("  tap0  \n\nlast")

	got, err := p.ReadLine("Name", "tun0")
	if err != nil || got != "tap0" {
		t.Errorf("ReadLine() = %q, %v, want tap0", got, err)
	}
	if !strings.Contains(out.String(), "Name [tun0]: ") {
		t.Errorf("prompt = %q", out.String())
	}

	got, err = p.ReadLine("Name", "tun0")
	if err != nil || got != "tun0" {
		t.Errorf("ReadLine(empty) = %q, %v, want default", got, err)
	}

	got, err = p.ReadLine("Name", "")
	if err != nil || got != "last" {
		t.Errorf("ReadLine(no newline) = %q, %v, want last", got, err)
	}

	if _, err := p.ReadLine("Name", "x"); err != io.EOF {
		t.Errorf("ReadLine() at EOF error = %v, want io.EOF", err)
	}
}

func TestReadLineValidated_Retries(t *testing.T) {
	p, out := newTestPrompter("bad\ngood\n")

	got, err := p.ReadLineValidated("Value", "", func(s string) error {
		if s != "good" {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil || got != "good" {
		t.Errorf("ReadLineValidated() = %q, %v", got, err)
	}
	if !strings.Contains(out.String(), "  Error: ") {
		t.Errorf("validation error not shown: %q", out.String())
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultYes bool
		want       bool
	}{
		{"yes", "y\n", false, true},
		{"YES uppercase", "YES\n", false, true},
		{"no", "n\n", true, false},
		{"default yes", "\n", true, true},
		{"default no", "\n", false, false},
		{"retry after junk", "maybe\nyes\n", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPrompter(tt.input)
			got, err := p.Confirm("Continue?", tt.defaultYes)
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	p, out := newTestPrompter("0\n9\n2\n\n")
	options := []string{"tun", "tap"}

	got, err := p.Select("Mode", options, 0)
	if err != nil || got != 1 {
		t.Errorf("Select() = %d, %v, want 1", got, err)
	}
	if strings.Count(out.String(), "Please enter a number between 1 and 2") != 2 {
		t.Errorf("out-of-range answers not rejected:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "> 1. tun") {
		t.Errorf("default marker missing:\n%s", out.String())
	}

	got, err = p.Select("Mode", options, 0)
	if err != nil || got != 0 {
		t.Errorf("Select(default) = %d, %v, want 0", got, err)
	}
}

func TestPrintHelpers(t *testing.T) {
	p, out := newTestPrompter("")

	p.PrintBanner("Title", "Sub")
	p.PrintHeader("Header", "desc")
	p.PrintSuccess("ok")
	p.PrintError("bad")
	p.PrintWarning("careful")
	p.PrintInfo("fyi")

	for _, want := range []string{
		strings.Repeat("=", lineWidth),
		strings.Repeat("-", lineWidth),
		"Header\n",
		"[OK] ok",
		"[ERROR] bad",
		"[WARNING] careful",
		"[INFO] fyi",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if IsTerminal(r) {
		t.Error("IsTerminal(pipe) = true")
	}
}
