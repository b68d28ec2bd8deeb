package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetSecret prompts for the owner secret and reads it from the terminal
// without echo. A newline is printed after the read to keep the UI tidy.
func GetSecret(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter owner secret: "); err != nil {
		return nil, err
	}
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return secret, nil
}
