// Package cli implements the interactive parts of the littleci command
// line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/littleci/littleci/internal/crypto"
	"github.com/littleci/littleci/internal/storage"
)

var (
	// ErrEmptyPassword rejects an empty password entry.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordMismatch is returned when the confirmation entry differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// PromptNewPassword asks for a password and a confirmation. On a terminal
// the input is read without echo; otherwise one line per entry is read
// from in, which keeps the flow scriptable.
func PromptNewPassword(in *os.File, out io.Writer) (string, error) {
	reader := bufio.NewReader(in)

	password, err := promptSecret(in, reader, out, "New password: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", ErrEmptyPassword
	}

	confirm, err := promptSecret(in, reader, out, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}

	return password, nil
}

func promptSecret(in *os.File, reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)

	if fd := int(in.Fd()); term.IsTerminal(fd) {
		entered, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(entered), nil
	}

	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// SetPassword hashes the password with a fresh salt and stores it for
// username. The account is created when it does not exist yet, so a
// Simple deployment can bootstrap its first operator. It reports whether
// a new account was created.
func SetPassword(ctx context.Context, store storage.Storage, username, password string) (bool, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return false, fmt.Errorf("generate salt: %w", err)
	}
	hashed := crypto.HashPassword(password, salt)

	_, err = store.FindUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err := store.CreateUser(ctx, &storage.User{Username: username, Password: hashed}); err != nil {
			return false, fmt.Errorf("create user: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if err := store.SetUserPassword(ctx, username, hashed); err != nil {
		return false, fmt.Errorf("set password: %w", err)
	}
	return false, nil
}
