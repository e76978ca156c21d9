// Package terminal provides prompt helpers for interactive commands.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/term"
)

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width, or 80 when it cannot be determined.
func Width() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// ReadSecret prompts on w and reads one line without echo when stdin is a
// terminal. Piped input is read as a plain line so scripts can supply it.
func ReadSecret(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ClearPreviousLines erases textLength characters of previously printed
// output, wrapping at the terminal width, plus the line the cursor is on.
func ClearPreviousLines(w io.Writer, textLength int) {
	lines := int(math.Ceil(float64(textLength) / float64(Width())))
	if lines < 1 {
		lines = 1
	}
	lines++ // the line left by Enter

	for i := 0; i < lines; i++ {
		fmt.Fprint(w, "\r\x1b[2K")
		if i < lines-1 {
			fmt.Fprint(w, "\x1b[1A")
		}
	}
}
