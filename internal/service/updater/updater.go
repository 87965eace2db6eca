package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/version"
)

// maxManifestSize bounds the manifest download.
const maxManifestSize = 64 << 10

var (
	errBadHTTPStatus      = errors.New("unexpected http status")
	errUpdateFolderNotSet = errors.New("update folder must be provided")
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// UpdateFolder is the base URL holding the manifest and the executable.
	UpdateFolder string
	// TargetPath is the executable to replace; defaults to the running binary.
	TargetPath string
	// Force applies the release even when versions and checksums match.
	Force bool
	// HTTPClient performs downloads; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Result reports what Run did.
type Result struct {
	// Updated is set when the target was replaced.
	Updated bool
	// LocalVersion is the version of the running build.
	LocalVersion string
	// RemoteVersion is the version in the manifest.
	RemoteVersion string
}

// Run checks the update folder and applies a newer release to the target.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "updater")

	if opts.UpdateFolder == "" {
		return nil, errUpdateFolderNotSet
	}

	target := opts.TargetPath
	if target == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}

		target = executable
	}

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	logger.InfoKV(ctx, "Downloading the update description", "folder", opts.UpdateFolder)

	manifest, err := fetch(ctx, client, opts.UpdateFolder, ManifestFilename, maxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("download update description: %w", err)
	}

	desc, err := ParseDescription(manifest)
	if err != nil {
		return nil, err
	}

	result := &Result{
		LocalVersion:  version.Short(),
		RemoteVersion: desc.VersionNumber,
	}

	checksum, err := desc.DecodeChecksum()
	if err != nil {
		return nil, err
	}

	if !opts.Force && !updateNeeded(ctx, target, checksum, result) {
		logger.Info(ctx, "No update required - version and checksum are current")

		return result, nil
	}

	logger.InfoKV(ctx, "Downloading executable", "file", desc.Executable)

	data, err := fetch(ctx, client, opts.UpdateFolder, desc.Executable, -1)
	if err != nil {
		return nil, fmt.Errorf("download executable: %w", err)
	}

	logger.InfoKV(ctx, "Applying update", "target", target)

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return nil, fmt.Errorf("apply update: %w", err)
	}

	oldFileName := target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	result.Updated = true

	logger.InfoKV(ctx, "Update applied", "from", result.LocalVersion, "to", result.RemoteVersion)

	return result, nil
}

// updateNeeded compares the running version and the target checksum with the release.
func updateNeeded(ctx context.Context, target string, checksum []byte, result *Result) bool {
	if result.RemoteVersion != "" && result.RemoteVersion != result.LocalVersion {
		logger.InfoKV(ctx, "Version mismatch detected",
			"local", result.LocalVersion, "remote", result.RemoteVersion)

		return true
	}

	local, err := FileChecksum(target)
	if err != nil {
		logger.WarnKV(ctx, "Cannot checksum target, updating", "target", target, "error", err)

		return true
	}

	if !bytes.Equal(local, checksum) {
		logger.InfoKV(ctx, "File update required", "reason", "checksum_mismatch")

		return true
	}

	return false
}

// fetch downloads a file from the update folder. A negative limit means unbounded.
func fetch(ctx context.Context, client *http.Client, folder, fileName string, limit int64) ([]byte, error) {
	folderURL, err := url.Parse(folder)
	if err != nil {
		return nil, fmt.Errorf("parse update folder: %w", err)
	}

	// Use path.Join to normalize duplicate slashes when composing the URL path.
	folderURL.Path = path.Join(folderURL.Path, fileName)
	finalURL := folderURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	var body io.Reader = response.Body
	if limit >= 0 {
		body = io.LimitReader(response.Body, limit)
	}

	return io.ReadAll(body)
}
