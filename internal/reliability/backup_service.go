package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
)

const (
	backupPrefix     = "tradewind-backup-"
	backupTimeLayout = "2006-01-02-150405"
	metadataFilename = "backup-metadata.json"
)

// ObjectStore is the slice of the blob store the backup service needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// StoredObject is one remote archive entry.
type StoredObject struct {
	Key       string
	SizeBytes int64
}

// BackupMetadata describes the contents of one archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Format    int                `json:"format"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file inside an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a remote archive.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService stages consistent copies of the durable databases, wraps
// them in a checksummed tar.gz and ships the archive to an object store.
// The cache database is deliberately absent: everything in it can be
// rebuilt from the venue.
type BackupService struct {
	databases map[string]*database.DB
	storage   ObjectStore
	retention int // archives kept remotely, oldest pruned first
	log       zerolog.Logger
}

// NewBackupService creates a backup service over the given databases.
func NewBackupService(databases map[string]*database.DB, storage ObjectStore, retention int, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		storage:   storage,
		retention: retention,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup stages every database, verifies the staged copies,
// archives them with metadata and uploads the result. It returns the
// remote key of the uploaded archive.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp("", "tradewind-staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Format:    1,
		Databases: make([]DatabaseMetadata, 0, len(names)),
	}

	for _, name := range names {
		stagedPath := filepath.Join(stagingDir, name+".db")

		s.log.Debug().Str("database", name).Msg("Staging database")

		if err := s.stageDatabase(name, stagedPath); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", name, err)
		}

		info, err := os.Stat(stagedPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat staged %s: %w", name, err)
		}

		checksum, err := fileChecksum(stagedPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, metadataFilename)
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := backupPrefix + time.Now().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)

	archiveFiles := make([]string, 0, len(names)+1)
	for _, name := range names {
		archiveFiles = append(archiveFiles, name+".db")
	}
	archiveFiles = append(archiveFiles, metadataFilename)

	if err := createArchive(archivePath, stagingDir, archiveFiles); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.storage.Upload(ctx, archiveName, archiveFile); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Backup uploaded")

	return archiveName, nil
}

// stageDatabase writes an atomic copy via VACUUM INTO and integrity-checks
// it before it is allowed into an archive.
func (s *BackupService) stageDatabase(name, stagedPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("database %s not found", name)
	}

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", stagedPath)); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}

	return verifyStagedCopy(stagedPath)
}

// verifyStagedCopy opens the staged file as its own database and runs a
// full integrity check. A copy that fails here never leaves the machine.
func verifyStagedCopy(path string) error {
	staged, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open staged copy: %w", err)
	}
	defer staged.Close()

	var result string
	if err := staged.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// ListBackups returns the remote archives, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.storage.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, backupPrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, backupPrefix), ".tar.gz")
		timestamp, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from archive name")
			continue
		}

		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups prunes remote archives beyond the retention count,
// oldest first. Retention of zero or less keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	if len(backups) <= s.retention {
		return nil
	}

	deleted := 0
	for _, backup := range backups[s.retention:] {
		if err := s.storage.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}

		s.log.Info().
			Str("key", backup.Key).
			Time("timestamp", backup.Timestamp).
			Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("kept", len(backups)-deleted).
		Msg("Backup rotation completed")

	return nil
}

// fileChecksum returns the sha256 of a file, prefixed with the algorithm
// so the metadata stays self-describing.
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

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive writes the named files from sourceDir into a tar.gz.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

func addFileToArchive(tarWriter *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
