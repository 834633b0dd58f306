package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// promptYes asks for confirmation; only an exact YES (any case) approves.
func promptYes(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}

// confirm returns nil when approve is set or the operator types YES.
func confirm(cmd *cobra.Command, approve bool, prompt string) error {
	if approve {
		return nil
	}
	ok, err := promptYes(cmd.InOrStdin(), cmd.OutOrStdout(), prompt+" Type YES to continue: ")
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if !ok {
		return fmt.Errorf("aborted by user")
	}
	return nil
}
