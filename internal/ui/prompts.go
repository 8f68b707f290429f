package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// PromptPassphrase asks for the history store passphrase via a one-shot huh
// form when attached to a terminal, falling back to golang.org/x/term's
// ReadPassword when huh's interactive renderer cannot run (e.g. piped
// stdin), matching the teacher's term.ReadPassword idiom in main.go.
func PromptPassphrase(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readPasswordLine(label)
	}

	var value string
	field := huh.NewInput().
		Title(label).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if s == "" {
				return fmt.Errorf("passphrase must not be empty")
			}
			return nil
		}).
		Value(&value)

	form := huh.NewForm(huh.NewGroup(field))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("passphrase prompt: %w", err)
	}
	return value, nil
}

// PromptAuthPassword asks for the shared authentication secret, same
// fallback behavior as PromptPassphrase.
func PromptAuthPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readPasswordLine("auth password: ")
	}

	var value string
	field := huh.NewInput().
		Title("shared authentication password").
		EchoMode(huh.EchoModePassword).
		Value(&value)

	form := huh.NewForm(huh.NewGroup(field))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("auth password prompt: %w", err)
	}
	return value, nil
}

// Confirm asks a yes/no question, used for the --reset "are you sure?"
// confirmation.
func Confirm(label string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; pass --yes to skip")
	}

	confirmed := false
	field := huh.NewConfirm().
		Title(label).
		Affirmative("yes").
		Negative("no").
		Value(&confirmed)

	form := huh.NewForm(huh.NewGroup(field))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}

func readPasswordLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
