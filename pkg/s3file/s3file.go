// Package s3file stages local files in S3 buckets.
package s3file

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// Config represents the input configuration for
// Write and Upload functions.
type Config struct {
	// Bucket is the bucket name.
	Bucket string

	// Key is the key in s3 bucket.
	// One of Key or Source must be specified
	Key string

	// Source is the local file path.
	Source string

	// Prefix is added to the Key attribute and used as final S3
	// bucket key.
	Prefix string

	// Content of the file. Takes precedence over Source.
	Content io.ReadSeeker

	// ContentType is the content-type of file.
	ContentType string

	// MaxSize is the maximum size of Write operation.
	MaxSize int64

	// Region is the AWS region of the bucket.
	// File URL is constructed only if Region sepcified.
	Region string
}

// File represents S3 Object
type File struct {
	// Bucket is the bucket of file.
	Bucket string

	// Key is the key of object in bucket.
	Key string

	// VersionID is the version of s3 object.
	VersionID string

	// Hash is the md5 of content in hex representation.
	// Set only by Write.
	Hash string

	// ContentType is the content-type header of s3 object.
	ContentType string

	// Region is the region of bucket.
	Region string

	// URL is the https URL of the file.
	// Example: https://mybucket.s3.eu-central-1.amazonaws.com/mykey
	URL string
}

// ObjectURL returns the virtual-hosted style URL of key in bucket.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.%s/%s", bucket, region, domain(region), key)
}

func domain(region string) string {
	if strings.HasPrefix(region, "cn-") {
		return "amazonaws.com.cn"
	}
	return "amazonaws.com"
}

func setHash(r io.ReadSeeker, h hash.Hash, maxSize int64) (err error) {
	buf := make([]byte, 4096)
	size := int64(0)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			size += int64(n)
			if maxSize != 0 && size > maxSize {
				return errors.Errorf("file is too big, size is > %d", maxSize)
			}
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Annotatef(err, "hash calculation failed, cannot read")
		}
	}
	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return errors.Annotatef(err, "hash calculation failed, cannot seek")
	}
	return nil
}

func (f *File) setLocation(c Config) error {
	if c.Bucket == "" {
		return errors.Errorf("bucket is not set")
	}
	f.Bucket = c.Bucket

	// identify key
	if c.Prefix != "" {
		f.Key = c.Prefix
	}
	if c.Key == "" {
		if c.Source == "" {
			return errors.Errorf("neither key nor source are set")
		}
		f.Key += filepath.Base(c.Source)
	} else {
		f.Key += c.Key
	}

	f.Region = c.Region

	return nil
}

func (f *File) setContentType(c Config) {
	if c.ContentType == "" {
		f.ContentType = "application/octet-stream"
	} else {
		f.ContentType = c.ContentType
	}
}

func (f *File) setURL() {
	if f.Region == "" {
		return
	}
	f.URL = ObjectURL(f.Bucket, f.Region, f.Key)
	if f.VersionID != "" {
		f.URL += fmt.Sprintf("?versionId=%s", url.PathEscape(f.VersionID))
	}
}

// open returns the content of config. The returned
// close function must be called when content is not needed.
func open(c Config) (io.ReadSeeker, func(), error) {
	if c.Content != nil {
		return c.Content, func() {}, nil
	}
	if c.Source == "" {
		return nil, nil, errors.Errorf("neither content nor source are set")
	}
	f, err := os.Open(c.Source)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "cannot open file")
	}
	return f, func() { f.Close() }, nil
}

// Write writes an S3 object. If file exists and hash not changed,
// returns VersionID of existing file.
func Write(conn s3iface.S3API, c Config) (*File, error) {
	f := &File{}

	if err := f.setLocation(c); err != nil {
		return nil, errors.Annotatef(err, "s3 write failed")
	}

	content, closeContent, err := open(c)
	if err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}
	defer closeContent()

	// calculate content hash
	hash := md5.New()
	if err = setHash(content, hash, c.MaxSize); err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}
	h := hash.Sum(nil)
	f.Hash = hex.EncodeToString(h)
	f.setContentType(c)

	// check if file already exists
	prev, err := conn.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(f.Key),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.RequestFailure); !ok || awsErr.StatusCode() != 404 {
			return nil, errors.Annotatef(err, "s3 upload failed, cannot read previous file")
		}
	} else if aws.StringValue(prev.ContentType) == f.ContentType && aws.StringValue(prev.ETag) == fmt.Sprintf(`"%s"`, f.Hash) {
		log.Debugf("s3://%s/%s is not changed", f.Bucket, f.Key)
		f.VersionID = aws.StringValue(prev.VersionId)
		f.setURL()
		return f, nil
	}

	out, err := conn.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(f.Bucket),
		Key:         aws.String(f.Key),
		ContentType: aws.String(f.ContentType),
		ContentMD5:  aws.String(base64.StdEncoding.EncodeToString(h)),
		Body:        content,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}
	f.VersionID = aws.StringValue(out.VersionId)
	f.setURL()
	return f, nil
}

// Upload uploads large objects with multipart upload.
// Unlike Write, content is always uploaded.
func Upload(uploader s3manageriface.UploaderAPI, c Config) (*File, error) {
	f := &File{}

	if err := f.setLocation(c); err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}

	content, closeContent, err := open(c)
	if err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}
	defer closeContent()

	f.setContentType(c)

	out, err := uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(f.Bucket),
		Key:         aws.String(f.Key),
		ContentType: aws.String(f.ContentType),
		Body:        content,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "s3 upload failed")
	}

	log.Debugf("uploaded %s", out.Location)

	f.VersionID = aws.StringValue(out.VersionID)
	f.setURL()
	return f, nil
}
