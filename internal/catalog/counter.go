package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Counter is the persisted request-id allocator. Ids are monotonically
// increasing and shared by payment requests, QR codes and group payments.
// The file is re-read before and rewritten after every allocation, so the
// on-disk value is always the next free id.
type Counter struct {
	path string
}

func NewCounter(path string) *Counter {
	return &Counter{path: path}
}

// Ensure creates the counter file with the first id if it does not exist.
// Ids start at 1; zero is reserved as the "no id" marker.
func (c *Counter) Ensure() error {
	_, err := os.Stat(c.path)
	if err == nil {
		return nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat counter file: %w", err)
	}

	if err := c.write(1); err != nil {
		return fmt.Errorf("initialize counter file: %w", err)
	}

	return nil
}

// Next reserves n consecutive ids and returns the first of them.
func (c *Counter) Next(n int64) (int64, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return 0, fmt.Errorf("read counter file: %w", err)
	}

	current, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter file: %w", err)
	}

	if err := c.write(current + n); err != nil {
		return 0, fmt.Errorf("advance counter file: %w", err)
	}

	return current, nil
}

// write replaces the counter file atomically (write to a temp file in the
// same directory, then rename over the original).
func (c *Counter) write(v int64) error {
	tmp := c.path + ".tmp"

	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0o600); err != nil {
		return fmt.Errorf("write temp counter: %w", err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename temp counter: %w", err)
	}

	return nil
}
