// Command passwd prints a bcrypt digest for a password read from the
// terminal, for seeding or repairing admin accounts by hand.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"roadpress-admin/internal/password"
)

const minLength = 12

var readPassword = term.ReadPassword

func main() {
	cost := flag.Int("cost", password.DefaultCost, "bcrypt cost")
	flag.Parse()

	if err := run(int(os.Stdin.Fd()), *cost, os.Stderr, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(fd, cost int, prompt, out io.Writer) error {
	fmt.Fprint(prompt, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	fmt.Fprint(prompt, "Repeat: ")
	second, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	if string(first) != string(second) {
		return errors.New("passwords do not match")
	}
	if len(first) < minLength {
		return fmt.Errorf("password must be at least %d characters", minLength)
	}

	hasher, err := password.NewHasher(cost)
	if err != nil {
		return err
	}
	digest, err := hasher.Hash(string(first))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, digest)
	return err
}
