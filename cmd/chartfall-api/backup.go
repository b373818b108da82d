package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/chartfall-net/chartfall/backend/internal/config"
	"github.com/chartfall-net/chartfall/backend/internal/logging"
)

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive the catalog database and local asset repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup()
		},
	}
}

func runBackup() error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(appConfig.BackupDir, 0o755); err != nil {
		return err
	}
	archivePath := filepath.Join(appConfig.BackupDir,
		fmt.Sprintf("chartfall-%s.tar.xz", time.Now().UTC().Format("20060102-150405")))

	archive, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	compressor, err := xz.NewWriter(archive)
	if err != nil {
		return err
	}
	tarball := tar.NewWriter(compressor)

	if err := addFileToArchive(tarball, appConfig.DatabasePath, filepath.Base(appConfig.DatabasePath)); err != nil {
		return err
	}
	if appConfig.StorageBackend != config.StorageBackendBadger {
		if err := addTreeToArchive(tarball, appConfig.StoragePath, "repository"); err != nil {
			return err
		}
	} else {
		logger.Warn("badger storage is not archived file by file; back up its directory while the server is stopped",
			zap.String("path", appConfig.StoragePath))
	}

	if err := tarball.Close(); err != nil {
		return err
	}
	if err := compressor.Close(); err != nil {
		return err
	}

	logger.Info("backup written", zap.String("archive", archivePath))
	return nil
}

func addFileToArchive(tarball *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tarball.WriteHeader(header); err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(tarball, file)
	return err
}

func addTreeToArchive(tarball *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFileToArchive(tarball, path, filepath.Join(prefix, filepath.ToSlash(relative)))
	})
}
