package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wneessen/go-fileperm"
)

// ShareMode selects whether one file or a flat directory is offered.
type ShareMode string

const (
	ModeDirectory ShareMode = "directory"
	ModeFile      ShareMode = "file"
)

// ShareConfiguration describes one running share. It is set once before
// the server starts and never mutated afterwards, so handler goroutines
// read it without synchronization.
type ShareConfiguration struct {
	Mode       ShareMode
	SharedPath string
	Password   string
	MaxClients int
	Port       int
}

// ChatPort and WebPort always sit directly above the transfer port,
// matching what connecting peers expect.
func (c *ShareConfiguration) ChatPort() int { return c.Port + 1 }
func (c *ShareConfiguration) WebPort() int  { return c.Port + 2 }

// PasswordRequired reports whether the auth handshake will ask for one.
func (c *ShareConfiguration) PasswordRequired() bool { return c.Password != "" }

// Validate normalizes the shared path and rejects configurations the
// server cannot serve, returning a reason suitable for the operator.
func (c *ShareConfiguration) Validate() error {
	if c.SharedPath == "" {
		return fmt.Errorf("no file or directory selected")
	}
	abs, err := filepath.Abs(c.SharedPath)
	if err != nil {
		return fmt.Errorf("resolving shared path: %w", err)
	}
	c.SharedPath = abs

	info, err := os.Stat(c.SharedPath)
	if err != nil {
		return fmt.Errorf("selected path does not exist: %s", c.SharedPath)
	}
	switch c.Mode {
	case ModeDirectory:
		if !info.IsDir() {
			return fmt.Errorf("share mode is %q but %s is not a directory", c.Mode, c.SharedPath)
		}
	case ModeFile:
		if !info.Mode().IsRegular() {
			return fmt.Errorf("share mode is %q but %s is not a regular file", c.Mode, c.SharedPath)
		}
	default:
		return fmt.Errorf("unknown share mode %q", c.Mode)
	}

	up, err := fileperm.New(c.SharedPath)
	if err != nil {
		return fmt.Errorf("checking share permissions: %w", err)
	}
	if !up.UserReadable() {
		return fmt.Errorf("no rights to read shared path %s", c.SharedPath)
	}

	if c.Port < 1 || c.Port > 65533 {
		return fmt.Errorf("port %d out of range (the chat and web ports sit at port+1 and port+2)", c.Port)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max clients must be at least 1, got %d", c.MaxClients)
	}
	return nil
}
