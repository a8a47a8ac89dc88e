package dictionary

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
)

const (
	repoOwner   = "scriptin"
	repoName    = "jmdict-simplified"
	assetPrefix = "jmdict-eng-common"
)

// Downloader fetches the latest jmdict-simplified release.
type Downloader struct {
	GitHub *gh.Client
	// HTTP downloads the asset itself.
	HTTP   *http.Client
	Logger *slog.Logger
}

// NewDownloader returns a Downloader. A non-empty token authenticates API
// calls, which lifts the anonymous rate limit.
func NewDownloader(ctx context.Context, token string, logger *slog.Logger) *Downloader {
	httpClient := &http.Client{Timeout: 10 * time.Minute}
	apiClient := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		apiClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		apiClient.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{GitHub: gh.NewClient(apiClient), HTTP: httpClient, Logger: logger}
}

// EnsureDictionary makes sure a dictionary file exists at path, downloading
// the latest release when it does not. GITHUB_TOKEN is used when set.
func EnsureDictionary(ctx context.Context, path string) error {
	return NewDownloader(ctx, os.Getenv("GITHUB_TOKEN"), nil).Ensure(ctx, path)
}

// Ensure returns immediately when path exists and downloads it otherwise.
func (d *Downloader) Ensure(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	d.Logger.Info("dictionary missing, downloading", "path", path)
	url, err := d.latestAssetURL(ctx)
	if err != nil {
		return fmt.Errorf("find latest dictionary release: %w", err)
	}
	d.Logger.Info("downloading dictionary", "url", url)
	return d.downloadAndExtract(ctx, url, path)
}

func (d *Downloader) latestAssetURL(ctx context.Context) (string, error) {
	release, _, err := d.GitHub.Repositories.GetLatestRelease(ctx, repoOwner, repoName)
	if err != nil {
		return "", err
	}
	for _, asset := range release.Assets {
		name := asset.GetName()
		if strings.Contains(name, assetPrefix) && (strings.HasSuffix(name, ".json.tgz") || strings.HasSuffix(name, ".json.gz")) {
			return asset.GetBrowserDownloadURL(), nil
		}
	}
	return "", fmt.Errorf("no %s asset in release %s", assetPrefix, release.GetTagName())
}

// downloadAndExtract writes the JSON inside a .json.tgz or .json.gz asset
// to destPath. The file appears only once it is complete.
func (d *Downloader) downloadAndExtract(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var src io.Reader = gz
	if strings.HasSuffix(url, ".tgz") {
		src, err = jsonMember(tar.NewReader(gz))
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".jmdict-*.json")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}

// jsonMember advances tr to its first regular .json file.
func jsonMember(tr *tar.Reader) (io.Reader, error) {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("no json file found in downloaded archive")
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar archive: %w", err)
		}
		if header.Typeflag == tar.TypeReg && strings.HasSuffix(header.Name, ".json") {
			return tr, nil
		}
	}
}
