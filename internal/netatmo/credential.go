package netatmo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// credentialFileMode is the permission used when rewriting the credential file.
const credentialFileMode = 0o600

// Credential is the OAuth2 token bundle for the Netatmo API.
//
// IssuedAt + ExpiresIn is the absolute instant the access token expires.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	IssuedAt     time.Time
	ExpiresIn    time.Duration
}

// ExpiresAt returns the instant the access token stops being valid.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.ExpiresIn)
}

// Expired reports whether now is strictly after the expiry instant.
// No skew margin is applied.
func (c Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}

// credentialFile is the on-disk JSON shape of a Credential.
type credentialFile struct {
	Token        string  `json:"token"`
	RefreshToken string  `json:"refresh_token"`
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	Created      float64 `json:"created"`
	ExpiresIn    float64 `json:"expires_in"`
}

// MarshalJSON encodes the credential in the credential file format.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(credentialFile{
		Token:        c.AccessToken,
		RefreshToken: c.RefreshToken,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Created:      unixSeconds(c.IssuedAt),
		ExpiresIn:    c.ExpiresIn.Seconds(),
	})
}

// UnmarshalJSON decodes the credential file format.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = Credential{
		AccessToken:  f.Token,
		RefreshToken: f.RefreshToken,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		IssuedAt:     fromUnixSeconds(f.Created),
		ExpiresIn:    time.Duration(math.Round(f.ExpiresIn * float64(time.Second))),
	}
	return nil
}

// unixSeconds converts t to fractional Unix seconds at millisecond precision.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1e3
}

// fromUnixSeconds is the inverse of unixSeconds.
func fromUnixSeconds(s float64) time.Time {
	return time.UnixMilli(int64(math.Round(s * 1e3)))
}

// CredentialStore loads and saves a Credential from a single JSON file.
type CredentialStore struct {
	path string
}

// NewCredentialStore returns a store backed by the file at path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the backing file path.
func (s *CredentialStore) Path() string {
	return s.path
}

// Load reads and validates the credential file.
//
// A missing, unreadable, malformed or incomplete file is reported as ErrConfig.
func (s *CredentialStore) Load() (Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, fmt.Errorf("%w: credential file %s not found", ErrConfig, s.path)
		}
		return Credential{}, fmt.Errorf("%w: reading credential file: %w", ErrConfig, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w: parsing credential file %s: %w", ErrConfig, s.path, err)
	}

	switch {
	case cred.RefreshToken == "":
		return Credential{}, fmt.Errorf("%w: credential file %s has no refresh_token", ErrConfig, s.path)
	case cred.ClientID == "":
		return Credential{}, fmt.Errorf("%w: credential file %s has no client_id", ErrConfig, s.path)
	case cred.ClientSecret == "":
		return Credential{}, fmt.Errorf("%w: credential file %s has no client_secret", ErrConfig, s.path)
	}

	return cred, nil
}

// Save overwrites the credential file with cred.
//
// The file is normally written to a temporary sibling and renamed into place
// so a crash mid-write never leaves a truncated credential behind. A symlink
// is followed, so the link survives and its target is replaced. When the
// directory does not allow that (read-only, or the file is bind-mounted into
// a container) the file is truncated and rewritten in place instead.
func (s *CredentialStore) Save(cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	target := s.path
	if resolved, err := filepath.EvalSymlinks(s.path); err == nil {
		target = resolved
	}

	renameErr := replaceFile(target, data)
	if renameErr == nil {
		return nil
	}
	if err := overwriteFile(target, data); err != nil {
		return fmt.Errorf("writing credential file: %w", errors.Join(renameErr, err))
	}
	return nil
}

// replaceFile writes data to a temporary file next to path and renames it
// over path.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("writing temporary credential file: %w", err)
	}
	if err := tmp.Chmod(credentialFileMode); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("setting credential file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary credential file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming credential file into place: %w", err)
	}
	return nil
}

// overwriteFile truncates path and writes data into the existing inode.
func overwriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, credentialFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck // already failing
		return err
	}
	return f.Close()
}
