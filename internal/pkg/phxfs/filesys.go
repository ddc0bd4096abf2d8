package phxfs

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// FileSystemType is an identifier for supported FileSystems
type FileSystemType int

// Identifiers for supported FileSystemTypes
const (
	Local FileSystemType = iota
	S3
)

// FileSystem provides the file backend for job input and output.
// Input data is loaded into memory from a file system before a run, and
// results are written back to one afterwards.
// This is abstracted to allow remote filesystems like S3 to be supported.
type FileSystem interface {
	ListFiles(pathGlob string) ([]FileInfo, error)
	Stat(filePath string) (FileInfo, error)
	OpenReader(filePath string, startAt int64) (io.ReadCloser, error)
	OpenWriter(filePath string) (io.WriteCloser, error)
	Init() error
}

// FileInfo provides information about a file
type FileInfo struct {
	Name string // file path
	Size int64  // file size in bytes
}

// InitFilesystem intializes a filesystem of the given type
func InitFilesystem(fsType FileSystemType) FileSystem {
	var fs FileSystem
	switch fsType {
	case Local:
		fs = &LocalFileSystem{}
	case S3:
		fs = &S3FileSystem{}
	}

	if err := fs.Init(); err != nil {
		log.Warnf("Could not initialize filesystem: %s", err)
	}
	return fs
}

// InferFilesystem initializes a filesystem by inferring its type from
// a file address.
// For example, locations starting with "s3://" will resolve to an S3
// filesystem.
func InferFilesystem(location string) FileSystem {
	var fsType FileSystemType
	if strings.HasPrefix(location, "s3://") {
		fsType = S3
	} else {
		fsType = Local
	}

	return InitFilesystem(fsType)
}

// ReadAll loads the whole file at filePath into memory.
func ReadAll(fs FileSystem, filePath string) ([]byte, error) {
	info, err := fs.Stat(filePath)
	if err != nil {
		return nil, err
	}
	log.Debugf("Reading %s (%s)", filePath, humanize.Bytes(uint64(info.Size)))

	reader, err := fs.OpenReader(filePath, 0)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	buf := bytes.NewBuffer(make([]byte, 0, info.Size))
	n, err := io.Copy(buf, reader)
	if err != nil {
		return nil, err
	}
	if n != info.Size {
		return nil, fmt.Errorf("read %d of %d bytes from %s", n, info.Size, filePath)
	}
	return buf.Bytes(), nil
}
