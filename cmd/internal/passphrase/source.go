package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Mode selects how a passphrase is collected.
type Mode int

const (
	// Unlock asks once for the passphrase of an existing account keystore.
	Unlock Mode = iota
	// Create asks twice and requires both entries to match, so a typo cannot
	// lock an issuer or investor out of a freshly generated signing key.
	Create
)

var (
	ErrNoTerminal = errors.New("account passphrase required and no terminal available")
	ErrEmpty      = errors.New("account passphrase cannot be empty")
	ErrMismatch   = errors.New("account passphrases do not match")
)

// terminal is the interactive side of a Source.
type terminal interface {
	IsTerminal() bool
	ReadPassword() ([]byte, error)
}

type stdinTerminal struct{}

func (stdinTerminal) IsTerminal() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

func (stdinTerminal) ReadPassword() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }

// Source resolves the passphrase that encrypts a bondctl account keystore,
// the file holding the secp256k1 key that signs bond_* and token_* envelopes.
// The environment variable wins over the terminal; the first answer is cached.
type Source struct {
	envVar string
	mode   Mode
	term   terminal
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source reading envVar first and prompting on stdin
// otherwise.
func NewSource(envVar string, mode Mode) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		mode:   mode,
		term:   stdinTerminal{},
		out:    os.Stderr,
	}
}

// Get returns the passphrase, resolving it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.term.IsTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%w; set %s", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}
	first, err := s.ask("Account passphrase: ")
	if err != nil {
		return "", err
	}
	if s.mode == Create {
		second, err := s.ask("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if second != first {
			return "", ErrMismatch
		}
	}
	return first, nil
}

func (s *Source) ask(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	raw, err := s.term.ReadPassword()
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", ErrEmpty
	}
	return value, nil
}
