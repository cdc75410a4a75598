package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/errors"
	"golang.org/x/crypto/ssh/terminal"
)

var stdin = bufio.NewReader(os.Stdin)

// askForConfirmation returns true if the user approves. Auto-approve
// wins over the prompt, missing input is an error.
func askForConfirmation(msg string) (bool, error) {
	if configFlags.autoApprove {
		return true, nil
	}
	if !configFlags.input {
		return false, errors.Errorf("cannot confirm change, neither auto-approve nor input flags are set")
	}
	for {
		fmt.Fprintf(stderr, "\n%s", color.RedString("%s [yes/no]: ", msg))
		res, err := stdin.ReadString('\n')
		if err != nil {
			return false, errors.Annotatef(err, "cannot read from stdin")
		}
		switch strings.TrimSpace(res) {
		case "yes":
			return true, nil
		case "no", "n":
			return false, nil
		}
	}
}

// readValue prompts for a value. Secret values are not echoed.
func readValue(prompt string, secret bool) (string, error) {
	if !configFlags.input {
		return "", errors.Errorf("%s is required, input is not available", prompt)
	}
	fmt.Fprintf(stderr, "%s: ", prompt)
	if secret {
		value, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", errors.Annotatef(err, "cannot read from terminal")
		}
		return strings.TrimSpace(string(value)), nil
	}
	value, err := stdin.ReadString('\n')
	if err != nil {
		return "", errors.Annotatef(err, "cannot read from stdin")
	}
	return strings.TrimSpace(value), nil
}
