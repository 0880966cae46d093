package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/observability"
)

const (
	backupPrefix     = "fleetd-backup-"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// BackupService snapshots both sqlite stores into a tar.gz archive and
// ships it to R2.
type BackupService struct {
	fleetDB       *database.DB
	signalDB      *database.DB
	dataDir       string
	r2            *R2Client
	retentionDays int
	metrics       *observability.Metrics
	log           zerolog.Logger
}

// StoreMetadata describes one store file inside the archive.
type StoreMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupMetadata is the manifest written next to the store snapshots.
type BackupMetadata struct {
	Timestamp time.Time       `json:"timestamp"`
	Stores    []StoreMetadata `json:"stores"`
}

// BackupInfo summarizes one archive stored in R2.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewBackupService wires the backup service.
func NewBackupService(fleetDB, signalDB *database.DB, dataDir string, r2 *R2Client, retentionDays int, metrics *observability.Metrics, log zerolog.Logger) *BackupService {
	return &BackupService{
		fleetDB:       fleetDB,
		signalDB:      signalDB,
		dataDir:       dataDir,
		r2:            r2,
		retentionDays: retentionDays,
		metrics:       metrics,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// Run creates, uploads, and rotates one backup.
func (s *BackupService) Run(ctx context.Context) error {
	err := s.runOnce(ctx)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.BackupsTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (s *BackupService) runOnce(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting store backup")

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{Timestamp: time.Now().UTC()}
	for _, db := range []*database.DB{s.fleetDB, s.signalDB} {
		snapshotPath := filepath.Join(stagingDir, db.Name()+".db")
		if err := s.snapshotStore(db, snapshotPath); err != nil {
			return err
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}
		metadata.Stores = append(metadata.Stores, StoreMetadata{
			Name:      db.Name(),
			Filename:  db.Name() + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	manifestPath := filepath.Join(stagingDir, "backup-metadata.json")
	manifest, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifest, 0644); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}

	archiveName := backupPrefix + time.Now().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.r2.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return err
	}

	if err := s.RotateOldBackups(ctx); err != nil {
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}

	s.log.Info().
		Dur("duration", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Store backup completed")
	return nil
}

// snapshotStore writes a consistent copy of one store. VACUUM INTO
// produces a compact single-file snapshot without blocking writers.
func (s *BackupService) snapshotStore(db *database.DB, destPath string) error {
	if _, err := db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot %s store: %w", db.Name(), err)
	}
	return nil
}

// ListBackups returns the archives in R2, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.r2.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(filename, backupPrefix), ".tar.gz")
		timestamp, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Unrecognized backup filename, skipping")
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{Filename: filename, Timestamp: timestamp, SizeBytes: size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives past the retention window, always
// keeping the newest few regardless of age.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.r2.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Old backups rotated")
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// createArchive tars and gzips every regular file in dir except the
// archive itself.
func createArchive(archivePath, dir string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Join(dir, entry.Name()) == archivePath {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = entry.Name()
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}
