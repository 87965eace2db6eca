package updater

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/shake-guard/internal/config"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// ManifestFilename is the release manifest in the update folder.
	ManifestFilename = "shake-guard-version.yaml"

	// DefaultFileMode is the mode of applied executables.
	DefaultFileMode os.FileMode = 0o755

	// DefaultChecksumFunction is used to calculate release checksums.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512
)

var (
	errHashUnavailable   = errors.New("hash function unavailable")
	errEmptyDescription  = errors.New("update description is empty")
	errNoExecutable      = errors.New("manifest names no executable")
	errNoChecksum        = errors.New("manifest has no checksum")
	errInvalidExecutable = errors.New("executable name must be a plain file name")
)

// Description is the release manifest.
type Description struct {
	// VersionNumber is the semantic version of this release.
	VersionNumber string `yaml:"version"`
	// Executable is the file name of the binary in the update folder.
	Executable string `yaml:"executable"`
	// Checksum is the base64-encoded SHA-512 of the executable.
	Checksum string `yaml:"checksum"`
}

// DecodeChecksum returns the raw checksum bytes.
func (d *Description) DecodeChecksum() ([]byte, error) {
	if d.Checksum == "" {
		return nil, errNoChecksum
	}

	sum, err := base64.StdEncoding.DecodeString(d.Checksum)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}

	return sum, nil
}

// Validate checks that the manifest can be applied.
func (d *Description) Validate() error {
	if d == nil {
		return errEmptyDescription
	}

	if d.Executable == "" {
		return errNoExecutable
	}

	if filepath.Base(d.Executable) != d.Executable {
		return fmt.Errorf("%q: %w", d.Executable, errInvalidExecutable)
	}

	_, err := d.DecodeChecksum()

	return err
}

// ParseDescription decodes a YAML manifest.
func ParseDescription(data []byte) (*Description, error) {
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return &desc, nil
}

// FileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func FileChecksum(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// PublishOptions are inputs of Publish.
type PublishOptions struct {
	// ExecutablePath is the binary to describe.
	ExecutablePath string
	// OutputDir receives the manifest; defaults to the executable's directory.
	OutputDir string
	// Version overrides the version recorded in the manifest.
	Version string
}

// Publish writes the manifest for an executable and returns its path.
func Publish(opts *PublishOptions) (string, error) {
	sum, err := FileChecksum(opts.ExecutablePath)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", opts.ExecutablePath, err)
	}

	desc := &Description{
		VersionNumber: opts.Version,
		Executable:    filepath.Base(opts.ExecutablePath),
		Checksum:      base64.StdEncoding.EncodeToString(sum),
	}

	data, err := yaml.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(opts.ExecutablePath)
	}

	path := filepath.Join(outputDir, ManifestFilename)
	if err = os.WriteFile(path, data, config.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return path, nil
}
