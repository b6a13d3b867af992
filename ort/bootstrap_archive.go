package ort

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxExtractedFileBytes  = int64(1 << 30)
	maxExtractedTotalBytes = int64(4 << 30)
)

var (
	bootstrapLockAcquireTimeout = 10 * time.Minute
	bootstrapLockRetryInterval  = 200 * time.Millisecond
	bootstrapLockLogInterval    = 15 * time.Second
)

// extractionReport summarizes what an archive extraction wrote and skipped.
type extractionReport struct {
	regularFiles              int
	skippedLinkEntries        int
	skippedLibraryLinkEntries int
}

func downloadAndInstallRuntime(cfg bootstrapConfig, artifact runtimeArtifact, installDir string) error {
	url := artifact.downloadURL(cfg.baseURL, cfg.version)
	archivePath, checksum, err := downloadRuntimeArchive(cfg, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(archivePath)
	}()

	if cfg.expectedSHA256 != "" && checksum != cfg.expectedSHA256 {
		return fmt.Errorf("download checksum mismatch: expected %s, got %s", cfg.expectedSHA256, checksum)
	}

	stagingRoot := fmt.Sprintf("%s.staging-%d", installDir, time.Now().UnixNano())
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create bootstrap staging directory %q: %w", stagingRoot, err)
	}
	defer func() {
		_ = os.RemoveAll(stagingRoot)
	}()

	report, err := extractArchiveFile(archivePath, stagingRoot, artifact.archiveExtension, artifact.libraryGlob)
	if err != nil {
		return err
	}

	extractedDir := filepath.Join(stagingRoot, artifact.archiveName(cfg.version))
	if info, statErr := os.Stat(extractedDir); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("failed to inspect extracted install directory %q: %w", extractedDir, statErr)
		}
		extractedDir = stagingRoot
	} else if !info.IsDir() {
		return fmt.Errorf("extracted install path is not a directory: %q", extractedDir)
	}

	if _, err := resolveExtractedLibraryPath(extractedDir, artifact); err != nil {
		if !errors.Is(err, errSharedLibraryNotFound) {
			return err
		}
		msg := fmt.Sprintf("downloaded archive did not contain expected shared library in %q", filepath.Join(extractedDir, "lib"))
		if report.skippedLibraryLinkEntries > 0 {
			msg += fmt.Sprintf(" (skipped %d symbolic link entries matching %s)", report.skippedLibraryLinkEntries, artifact.libraryGlob)
		}
		return errors.New(msg)
	}

	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove previous ONNX Runtime install at %q: %w", installDir, err)
	}
	if err := os.Rename(extractedDir, installDir); err != nil {
		return fmt.Errorf("failed to install ONNX Runtime to %q: %w", installDir, err)
	}
	return nil
}

func downloadRuntimeArchive(cfg bootstrapConfig, url string) (archivePath string, checksum string, err error) {
	limit := cfg.maxDownloadSize
	if limit <= 0 {
		limit = defaultMaxDownloadSize
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create download request for %q: %w", url, err)
	}

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if s := strings.TrimSpace(string(snippet)); s != "" {
			return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d: %s", url, resp.StatusCode, s)
		}
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d", url, resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return "", "", fmt.Errorf("ONNX Runtime archive exceeds maximum size limit of %d bytes (content-length=%d)", limit, resp.ContentLength)
	}

	if err := os.MkdirAll(cfg.cacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory %q: %w", cfg.cacheDir, err)
	}

	tmpFile, err := os.CreateTemp(cfg.cacheDir, "onnxruntime-*.archive")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary archive file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		closeErr := tmpFile.Close()
		if err == nil && closeErr != nil {
			err = closeErr
			success = false
		}
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	// Read one byte past the limit to detect oversize bodies without a Content-Length.
	written, copyErr := io.Copy(io.MultiWriter(tmpFile, hasher), io.LimitReader(resp.Body, limit+1))
	if copyErr != nil {
		return "", "", fmt.Errorf("failed to write ONNX Runtime archive to %q: %w", tmpPath, copyErr)
	}
	if written > limit {
		return "", "", fmt.Errorf("ONNX Runtime archive exceeds maximum size limit of %d bytes", limit)
	}
	if written == 0 {
		return "", "", fmt.Errorf("downloaded ONNX Runtime archive is empty")
	}

	logger().Debug("downloaded ONNX Runtime archive", zap.String("url", url), zap.Int64("bytes", written))
	success = true
	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

func extractArchiveFile(archivePath, destinationDir, extension, libraryGlob string) (extractionReport, error) {
	var report extractionReport
	var err error
	switch extension {
	case "tgz":
		report, err = extractTGZArchive(archivePath, destinationDir, libraryGlob)
	case "zip":
		report, err = extractZIPArchive(archivePath, destinationDir, libraryGlob)
	default:
		return report, fmt.Errorf("unsupported archive extension %q", extension)
	}
	if err != nil {
		return report, err
	}
	if report.regularFiles == 0 {
		return report, fmt.Errorf("archive %q did not contain regular files", archivePath)
	}
	return report, nil
}

// skipLink records a symbolic link entry that extraction refuses to create.
func (r *extractionReport) skipLink(name, libraryGlob string) {
	r.skippedLinkEntries++
	if libraryGlob == "" {
		return
	}
	if ok, _ := path.Match(libraryGlob, path.Base(strings.ReplaceAll(name, "\\", "/"))); ok {
		r.skippedLibraryLinkEntries++
	}
}

func extractTGZArchive(archivePath, destinationDir, libraryGlob string) (extractionReport, error) {
	var report extractionReport

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return report, fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = archiveFile.Close()
	}()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return report, fmt.Errorf("failed to read gzip archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = gzipReader.Close()
	}()

	tarReader := tar.NewReader(gzipReader)
	var total int64
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("failed to read tar entry from %q: %w", archivePath, err)
		}

		switch header.Typeflag {
		case tar.TypeXHeader, tar.TypeXGlobalHeader:
			continue
		case tar.TypeSymlink, tar.TypeLink:
			report.skipLink(header.Name, libraryGlob)
			continue
		}

		targetPath, err := secureArchiveJoin(destinationDir, header.Name)
		if err != nil {
			return report, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return report, fmt.Errorf("failed to create directory %q: %w", targetPath, err)
			}
		case tar.TypeReg:
			if err := writeExtractedFile(targetPath, header.FileInfo().Mode().Perm(), tarReader, header.Size, &total, header.Name); err != nil {
				return report, err
			}
			report.regularFiles++
		default:
			// Device files and FIFOs never appear in runtime archives.
			continue
		}
	}
	return report, nil
}

func extractZIPArchive(archivePath, destinationDir, libraryGlob string) (extractionReport, error) {
	var report extractionReport

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return report, fmt.Errorf("failed to open ZIP archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	var total int64
	for _, entry := range reader.File {
		mode := entry.Mode()
		if mode&os.ModeSymlink != 0 {
			report.skipLink(entry.Name, libraryGlob)
			continue
		}

		targetPath, err := secureArchiveJoin(destinationDir, entry.Name)
		if err != nil {
			return report, err
		}

		if mode.IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return report, fmt.Errorf("failed to create directory %q: %w", targetPath, err)
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		if entry.UncompressedSize64 > uint64(maxExtractedFileBytes) {
			return report, fmt.Errorf("archive entry %q exceeds per-file extraction limit of %d bytes", entry.Name, maxExtractedFileBytes)
		}
		rc, err := entry.Open()
		if err != nil {
			return report, fmt.Errorf("failed to open ZIP entry %q: %w", entry.Name, err)
		}
		// #nosec G115 -- bounded by maxExtractedFileBytes above
		writeErr := writeExtractedFile(targetPath, mode.Perm(), rc, int64(entry.UncompressedSize64), &total, entry.Name)
		closeErr := rc.Close()
		if writeErr != nil {
			return report, writeErr
		}
		if closeErr != nil {
			return report, fmt.Errorf("failed to close ZIP entry %q: %w", entry.Name, closeErr)
		}
		report.regularFiles++
	}
	return report, nil
}

func writeExtractedFile(targetPath string, mode os.FileMode, src io.Reader, size int64, total *int64, name string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %q: %w", targetPath, err)
	}
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create extracted file %q: %w", targetPath, err)
	}
	if err := copyExtractedFile(out, src, size, total, name); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close extracted file %q: %w", targetPath, err)
	}
	return nil
}

// copyExtractedFile copies exactly size bytes, enforcing the per-file and
// cumulative extraction limits. total accumulates across calls when non-nil.
func copyExtractedFile(dst io.Writer, src io.Reader, size int64, total *int64, name string) error {
	if size < 0 || size > maxExtractedFileBytes {
		return fmt.Errorf("archive entry %q size %d exceeds per-file extraction limit of %d bytes", name, size, maxExtractedFileBytes)
	}
	if total != nil && *total+size > maxExtractedTotalBytes {
		return fmt.Errorf("archive entry %q would exceed total extraction limit of %d bytes", name, maxExtractedTotalBytes)
	}

	written, err := io.CopyN(dst, src, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("archive entry %q is truncated: wrote %d of %d bytes", name, written, size)
		}
		return fmt.Errorf("failed to extract %q: %w", name, err)
	}
	if total != nil {
		*total += written
	}
	return nil
}

func withProcessFileLock(lockPath string, fn func() error) (err error) {
	if fn == nil {
		return fmt.Errorf("lock callback is nil")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	start := time.Now()
	lastLog := start
	for {
		lockErr := tryLockFile(file)
		if lockErr == nil {
			break
		}
		if !isLockWouldBlock(lockErr) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock %q: %w", lockPath, lockErr)
		}
		waited := time.Since(start)
		if waited >= bootstrapLockAcquireTimeout {
			_ = file.Close()
			return fmt.Errorf("timed out acquiring lock %q after %s", lockPath, waited.Round(time.Millisecond))
		}
		if time.Since(lastLog) >= bootstrapLockLogInterval {
			logger().Info("waiting for ONNX Runtime bootstrap lock", zap.String("lock", lockPath), zap.Duration("waited", waited))
			lastLog = time.Now()
		}
		time.Sleep(bootstrapLockRetryInterval)
	}

	defer func() {
		unlockErr := unlockFile(file)
		closeErr := file.Close()
		err = errors.Join(err, unlockErr, closeErr)
	}()

	return fn()
}

func secureArchiveJoin(baseDir, archivePath string) (string, error) {
	archivePath = strings.TrimSpace(archivePath)
	if archivePath == "" {
		return "", fmt.Errorf("invalid empty archive entry path")
	}

	normalized := strings.ReplaceAll(archivePath, "\\", "/")
	if strings.HasPrefix(normalized, "/") {
		return "", fmt.Errorf("invalid absolute archive entry path %q", archivePath)
	}
	if len(normalized) >= 2 && normalized[1] == ':' {
		return "", fmt.Errorf("invalid archive entry path with drive letter %q", archivePath)
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("unsafe archive entry path %q", archivePath)
	}

	targetPath := filepath.Join(baseDir, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(baseDir, targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve archive path %q: %w", archivePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe archive entry path %q", archivePath)
	}
	return targetPath, nil
}
