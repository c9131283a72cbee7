package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

var stdin = bufio.NewReader(os.Stdin)

// prompt prints question and returns the trimmed answer
func prompt(question string) string {
	fmt.Print(question)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// confirm asks a y/n question. Anything but y/yes is no.
func confirm(question string) bool {
	switch strings.ToLower(prompt(question + " (y/n): ")) {
	case "y", "yes":
		return true
	}
	return false
}
