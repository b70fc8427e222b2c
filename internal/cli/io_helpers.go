package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// stdin is shared so buffered input is not lost between prompts.
var stdin = bufio.NewReader(os.Stdin)

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptRequired(label string) (string, error) {
	if !stdinIsTTY() {
		return "", fmt.Errorf("%s is required", label)
	}
	value, err := readLine(label + ": ")
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	return value, nil
}

func promptConfirm(prompt string) (bool, error) {
	if !stdinIsTTY() {
		return false, errors.New("confirmation required (rerun with --yes in non-interactive mode)")
	}
	answer, err := readLine(prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func stdinIsTTY() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// formatBytesIEC renders n with a binary unit, e.g. "1.5 GiB".
func formatBytesIEC(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(max(n, 0), 10) + " B"
	}
	value, exp := float64(n)/unit, 0
	for value >= unit && exp < 5 {
		value /= unit
		exp++
	}
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}

func ptr[T any](v T) *T {
	return &v
}
