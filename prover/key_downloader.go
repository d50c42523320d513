package prover

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zkvote/vote-prover/logging"
)

const (
	DefaultMaxRetries    = 10
	DefaultRetryDelay    = 5 * time.Second
	DefaultMaxRetryDelay = 5 * time.Minute
	checksumFile         = "CHECKSUM"
)

type DownloadConfig struct {
	BaseURL       string
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func DefaultDownloadConfig(baseURL string) DownloadConfig {
	return DownloadConfig{
		BaseURL:       strings.TrimSuffix(baseURL, "/"),
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// KeyDownloader fetches vote_<depth>.key files published next to a CHECKSUM
// file in "sha256  filename" format, resuming partial downloads.
type KeyDownloader struct {
	config DownloadConfig
	client *http.Client

	mu        sync.Mutex
	checksums map[string]string
}

func NewKeyDownloader(config DownloadConfig) *KeyDownloader {
	return &KeyDownloader{
		config: config,
		client: &http.Client{Timeout: 60 * time.Minute},
	}
}

func (d *KeyDownloader) loadChecksums() (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checksums != nil {
		return d.checksums, nil
	}

	checksumURL := d.config.BaseURL + "/" + checksumFile
	logging.Logger().Info().
		Str("url", checksumURL).
		Msg("Downloading CHECKSUM file")

	resp, err := d.client.Get(checksumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download CHECKSUM file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download CHECKSUM file: HTTP %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read CHECKSUM file: %w", err)
	}

	checksums := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			checksums[parts[1]] = strings.ToLower(parts[0])
		}
	}
	d.checksums = checksums
	logging.Logger().Info().
		Int("count", len(checksums)).
		Msg("Loaded checksums")
	return checksums, nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func calculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := initialDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// fetchOnce appends to outputPath+".tmp" and renames it into place once the
// body has been read completely.
func (d *KeyDownloader) fetchOnce(url string, outputPath string) (int64, error) {
	tempPath := outputPath + ".tmp"

	var existingSize int64
	if fileInfo, err := os.Stat(tempPath); err == nil {
		existingSize = fileInfo.Size()
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
		logging.Logger().Info().
			Str("url", url).
			Int64("resume_from", existingSize).
			Msg("Resuming download")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var file *os.File
	if existingSize > 0 && resp.StatusCode == http.StatusPartialContent {
		file, err = os.OpenFile(tempPath, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		file, err = os.Create(tempPath)
		existingSize = 0
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}

	written, err := io.Copy(file, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("download interrupted: %w", err)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return existingSize + written, nil
}

func (d *KeyDownloader) downloadWithRetry(url string, outputPath string) error {
	var lastErr error
	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		logging.Logger().Info().
			Str("url", url).
			Int("attempt", attempt).
			Int("max_retries", d.config.MaxRetries).
			Msg("Starting download")

		size, err := d.fetchOnce(url, outputPath)
		if err == nil {
			logging.Logger().Info().
				Str("file", filepath.Base(outputPath)).
				Int64("size", size).
				Msg("Download completed successfully")
			return nil
		}
		lastErr = err
		if attempt < d.config.MaxRetries {
			delay := calculateBackoff(attempt, d.config.RetryDelay, d.config.MaxRetryDelay)
			logging.Logger().Warn().
				Err(err).
				Dur("retry_delay", delay).
				Msg("Download failed, retrying")
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("failed to download after %d attempts: %w", d.config.MaxRetries, lastErr)
}

// DownloadKey makes sure keyPath holds the published key. A present file with
// the right checksum is left alone.
func (d *KeyDownloader) DownloadKey(keyPath string) error {
	filename := filepath.Base(keyPath)

	checksums, err := d.loadChecksums()
	if err != nil {
		return fmt.Errorf("failed to load checksums: %w", err)
	}
	expected, exists := checksums[filename]
	if !exists {
		return fmt.Errorf("no checksum found for %s", filename)
	}

	if _, err := os.Stat(keyPath); err == nil {
		actual, err := fileChecksum(keyPath)
		switch {
		case err != nil:
			logging.Logger().Warn().Err(err).Str("file", filename).Msg("Failed to verify checksum, will re-download")
		case actual == expected:
			logging.Logger().Info().Str("file", filename).Msg("Key file is valid, skipping download")
			return nil
		default:
			logging.Logger().Warn().Str("file", filename).Msg("Checksum mismatch, re-downloading")
			os.Remove(keyPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := d.downloadWithRetry(d.config.BaseURL+"/"+filename, keyPath); err != nil {
		return err
	}

	actual, err := fileChecksum(keyPath)
	if err != nil {
		return fmt.Errorf("failed to verify downloaded file: %w", err)
	}
	if actual != expected {
		os.Remove(keyPath)
		return fmt.Errorf("downloaded file %s checksum mismatch", filename)
	}

	logging.Logger().Info().
		Str("file", filename).
		Msg("Key file downloaded and verified successfully")
	return nil
}
