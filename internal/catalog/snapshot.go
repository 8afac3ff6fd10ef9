package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fastprodman/moneyexchange/pkg/sealbox"
)

// saveSnapshot serializes v, seals it under password and writes data and
// parameter files. The write is not atomic across the two files, but the
// parameter file is written first so a torn write is detected as a decrypt
// failure rather than silently read as stale data.
func saveSnapshot(path, paramPath, password string, v any) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ciphertext, params, err := sealbox.Seal(password, plaintext)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	if err := os.WriteFile(paramPath, rawParams, 0o600); err != nil {
		return fmt.Errorf("write params file: %w", err)
	}

	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}

	return nil
}

// loadSnapshot reads and decrypts a snapshot into v. A missing or empty data
// file is not an error; it reports found=false and leaves v untouched.
func loadSnapshot(path, paramPath, password string, v any) (bool, error) {
	ciphertext, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("read snapshot file: %w", err)
	}

	if len(ciphertext) == 0 {
		return false, nil
	}

	rawParams, err := os.ReadFile(paramPath)
	if err != nil {
		return false, fmt.Errorf("read params file: %w", err)
	}

	var params sealbox.Params
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return false, fmt.Errorf("unmarshal params: %w", err)
	}

	plaintext, err := sealbox.Open(password, ciphertext, params)
	if err != nil {
		return false, fmt.Errorf("open snapshot: %w", err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return false, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return true, nil
}
