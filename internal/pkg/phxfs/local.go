package phxfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFileSystem reads and writes files on the local disk
type LocalFileSystem struct{}

// ListFiles returns the regular files matching pathGlob in lexical order.
// A matched directory contributes every file beneath it.
func (l *LocalFileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	matches, err := filepath.Glob(pathGlob)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(matches))
	for _, match := range matches {
		err := filepath.WalkDir(match, func(name string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return err
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			files = append(files, FileInfo{Name: name, Size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// OpenReader opens filePath and seeks startAt bytes in
func (l *LocalFileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	if _, err = file.Seek(startAt, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// OpenWriter truncates or creates filePath, creating missing parent
// directories
func (l *LocalFileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}
	return os.Create(filePath)
}

// Stat returns the size of the file at filePath
func (l *LocalFileSystem) Stat(filePath string) (FileInfo, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: filePath, Size: info.Size()}, nil
}

// Init is a no-op for the local filesystem
func (l *LocalFileSystem) Init() error {
	return nil
}
