package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"spamfilter/pkg/logger"
)

// DriveDownloader fetches dataset files from Google Drive.
type DriveDownloader struct {
	credentialsFile string
	cacheDir        string
}

// NewDriveDownloader creates a downloader. Without a credentials file the
// request is unauthenticated, which only works for public files.
func NewDriveDownloader(credentialsFile, cacheDir string) *DriveDownloader {
	return &DriveDownloader{credentialsFile: credentialsFile, cacheDir: cacheDir}
}

func (d *DriveDownloader) service(ctx context.Context) (*drive.Service, error) {
	if d.credentialsFile == "" {
		return drive.NewService(ctx, option.WithoutAuthentication())
	}
	data, err := os.ReadFile(d.credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return drive.NewService(ctx, option.WithCredentials(creds))
}

// Download stores the file under cacheDir and returns its path. An existing
// cached copy is reused.
func (d *DriveDownloader) Download(ctx context.Context, fileID string) (string, error) {
	path := filepath.Join(d.cacheDir, "drive_"+fileID+".csv")
	if _, err := os.Stat(path); err == nil {
		logger.Info("using cached dataset %s", path)
		return path, nil
	}

	srv, err := d.service(ctx)
	if err != nil {
		return "", fmt.Errorf("drive client: %w", err)
	}
	resp, err := srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("save %s: %w", fileID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	logger.Info("downloaded dataset %s (%d bytes)", fileID, n)
	return path, nil
}
