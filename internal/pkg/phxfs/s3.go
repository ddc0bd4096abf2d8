package phxfs

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
)

// defaultReadChunkSize is the size of each ranged GET issued by S3 readers
const defaultReadChunkSize = 64 * 1024 * 1024

// S3FileSystem reads and writes objects addressed as s3://bucket/key
type S3FileSystem struct {
	s3Client *s3.S3
}

func parseS3URI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "s3" {
		return nil, fmt.Errorf("invalid s3 uri %q", uri)
	}
	parsed.Path = strings.TrimPrefix(parsed.Path, "/")
	return parsed, nil
}

// globPrefix returns the part of pattern before its first glob metacharacter
func globPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?[\\"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func matchesKey(pattern, key string, isGlob bool) bool {
	if isGlob {
		match, _ := path.Match(pattern, key)
		return match
	}
	dir := strings.TrimSuffix(pattern, "/")
	return key == pattern || dir == "" || strings.HasPrefix(key, dir+"/")
}

// ListFiles lists the objects matching pathGlob. A pattern without glob
// characters matches the object with that key and every object beneath it
// as a directory.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	s3Files := make([]FileInfo, 0)

	parsed, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}
	prefix := globPrefix(parsed.Path)
	isGlob := prefix != parsed.Path

	params := &s3.ListObjectsInput{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(prefix),
	}
	err = s.s3Client.ListObjectsPages(params,
		func(page *s3.ListObjectsOutput, _ bool) bool {
			for _, object := range page.Contents {
				if !matchesKey(parsed.Path, *object.Key, isGlob) {
					continue
				}
				s3Files = append(s3Files, FileInfo{
					Name: fmt.Sprintf("s3://%s/%s", parsed.Host, *object.Key),
					Size: *object.Size,
				})
			}
			return true
		})

	return s3Files, err
}

// OpenReader opens a reader positioned startAt bytes into the object
func (s *S3FileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	info, err := s.Stat(filePath)
	if err != nil {
		return nil, err
	}

	reader := &s3Reader{
		client:    s.s3Client,
		bucket:    parsed.Host,
		key:       parsed.Path,
		offset:    startAt,
		chunkSize: defaultReadChunkSize,
		totalSize: info.Size,
	}
	if err := reader.loadNextChunk(); err != nil {
		return nil, err
	}
	return reader, nil
}

// OpenWriter buffers writes in memory and uploads the object on Close
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	return newS3Writer(s.s3Client, parsed.Host, parsed.Path), nil
}

// Stat returns information about the object at filePath
func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	params := &s3.HeadObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	}
	result, err := s.s3Client.HeadObject(params)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name: filePath,
		Size: aws.Int64Value(result.ContentLength),
	}, nil
}

// Init creates an S3 client from the shared AWS configuration
func (s *S3FileSystem) Init() error {
	os.Setenv("AWS_SDK_LOAD_CONFIG", "true")
	sess, err := session.NewSession()
	if err != nil {
		return err
	}
	s.s3Client = s3.New(sess)
	log.Debugf("Initialized S3 client in region %s", aws.StringValue(sess.Config.Region))
	return nil
}
