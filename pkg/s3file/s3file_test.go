package s3file

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/spirius/gldeploy/pkg/cfn"
	mock "github.com/spirius/gldeploy/pkg/s3file/mock"
)

const (
	testBucket   = "gamelift-plugin-123456789012-us-west-2"
	testRegion   = "us-west-2"
	templateKey  = "CloudFormation/cloudformation_1700000000.yml"
	buildKey     = "GameLift_Build_1700000000.zip"
	templateBody = "AWSTemplateFormatVersion: \"2010-09-09\"\nResources: {}\n"
	yamlType     = "application/x-yaml"
)

func md5Hex(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// brokenContent fails reading or seeking of content.
type brokenContent struct {
	io.ReadSeeker
	readErr, seekErr error
}

func (b *brokenContent) Read(p []byte) (int, error) {
	if b.readErr != nil {
		return 0, b.readErr
	}
	return b.ReadSeeker.Read(p)
}

func (b *brokenContent) Seek(offset int64, whence int) (int64, error) {
	if b.seekErr != nil {
		return 0, b.seekErr
	}
	return b.ReadSeeker.Seek(offset, whence)
}

// headFailingS3 fails HeadObject with err.
type headFailingS3 struct {
	*mock.MockS3API
	err error
}

func (s *headFailingS3) HeadObject(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	return nil, s.err
}

func newTestS3() *mock.MockS3API {
	m := mock.NewMockS3API()
	m.AddBucket(testBucket, testRegion)
	return m
}

func templateConfig(body string) Config {
	return Config{
		Bucket:      testBucket,
		Key:         templateKey,
		Content:     strings.NewReader(body),
		ContentType: yamlType,
		MaxSize:     cfn.MaxTemplateBodySize,
		Region:      testRegion,
	}
}

func TestSetLocation(t *testing.T) {
	require := require.New(t)

	var inputs = []struct {
		config Config
		key    string
		err    bool
	}{
		{config: Config{}, err: true},
		{config: Config{Bucket: testBucket}, err: true},
		{config: Config{Bucket: testBucket, Key: templateKey}, key: templateKey},
		{config: Config{Bucket: testBucket, Prefix: "CloudFormation/", Source: "/games/mygame/cloudformation.yml"}, key: "CloudFormation/cloudformation.yml"},
		{config: Config{Bucket: testBucket, Prefix: "builds/", Key: buildKey}, key: "builds/" + buildKey},
	}
	for _, input := range inputs {
		f := &File{}
		err := f.setLocation(input.config)
		if input.err {
			require.NotNilf(err, "config: %#+v", input.config)
			continue
		}
		require.Nil(err)
		require.Equal(testBucket, f.Bucket)
		require.Equal(input.key, f.Key)
	}
}

func TestWrite_template(t *testing.T) {
	require := require.New(t)
	m := newTestS3()

	f, err := Write(m, templateConfig(templateBody))
	require.Nil(err)
	require.Equal(md5Hex(templateBody), f.Hash)
	require.Equal(yamlType, f.ContentType)
	require.Equal(testRegion, f.Region)
	require.Equal("https://"+testBucket+".s3.us-west-2.amazonaws.com/"+templateKey, f.URL)
	require.Equal([]byte(templateBody), m.Object(testBucket, templateKey))
	require.Equal(1, m.Calls("HeadObject"))
	require.Equal(1, m.Calls("PutObject"))
}

func TestWrite_unchanged(t *testing.T) {
	require := require.New(t)
	m := newTestS3()

	first, err := Write(m, templateConfig(templateBody))
	require.Nil(err)

	again, err := Write(m, templateConfig(templateBody))
	require.Nil(err)
	require.Equal(first.Hash, again.Hash)
	require.Equal(first.URL, again.URL)
	require.Equal(2, m.Calls("HeadObject"))
	require.Equal(1, m.Calls("PutObject"))

	// different content type is a change
	c := templateConfig(templateBody)
	c.ContentType = ""
	f, err := Write(m, c)
	require.Nil(err)
	require.Equal("application/octet-stream", f.ContentType)
	require.Equal(2, m.Calls("PutObject"))

	changed := templateBody + "Outputs: {}\n"
	f, err = Write(m, templateConfig(changed))
	require.Nil(err)
	require.Equal(md5Hex(changed), f.Hash)
	require.Equal(3, m.Calls("PutObject"))
	require.Equal([]byte(changed), m.Object(testBucket, templateKey))
}

func TestWrite_maxTemplateBodySize(t *testing.T) {
	require := require.New(t)
	m := newTestS3()

	body := strings.Repeat("#", cfn.MaxTemplateBodySize)
	_, err := Write(m, templateConfig(body))
	require.Nil(err)

	_, err = Write(m, templateConfig(body+"#"))
	require.NotNil(err)
	require.Contains(err.Error(), fmt.Sprintf("size is > %d", cfn.MaxTemplateBodySize))
	require.Equal(1, m.Calls("HeadObject"))
	require.Equal(1, m.Calls("PutObject"))

	_, err = Write(m, Config{Bucket: testBucket, Source: "testdata/s3file.txt", MaxSize: 1})
	require.NotNil(err)
	require.Equal(1, m.Calls("PutObject"))
}

func TestWrite_versionID(t *testing.T) {
	require := require.New(t)
	m := newTestS3()

	m.MockPutObject = func(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		body, err := ioutil.ReadAll(in.Body)
		require.Nil(err)
		h := md5.Sum(body)
		require.Equal(base64.StdEncoding.EncodeToString(h[:]), aws.StringValue(in.ContentMD5))
		require.Equal(yamlType, aws.StringValue(in.ContentType))
		return &s3.PutObjectOutput{VersionId: aws.String("3/L4kqtJlcpX")}, nil
	}

	f, err := Write(m, templateConfig(templateBody))
	require.Nil(err)
	require.Equal("3/L4kqtJlcpX", f.VersionID)
	require.Equal("https://"+testBucket+".s3.us-west-2.amazonaws.com/"+templateKey+"?versionId=3%2FL4kqtJlcpX", f.URL)
}

func TestWrite_source(t *testing.T) {
	require := require.New(t)
	m := newTestS3()

	f, err := Write(m, Config{
		Bucket: testBucket,
		Prefix: "CloudFormation/",
		Source: "testdata/s3file.txt",
	})
	require.Nil(err)
	require.Equal("CloudFormation/s3file.txt", f.Key)
	require.Equal("application/octet-stream", f.ContentType)
	require.Empty(f.URL)

	data, err := ioutil.ReadFile("testdata/s3file.txt")
	require.Nil(err)
	require.Equal(data, m.Object(testBucket, "CloudFormation/s3file.txt"))
}

func TestWrite_errors(t *testing.T) {
	require := require.New(t)
	someErr := fmt.Errorf("some error")

	var inputs = []struct {
		name   string
		config Config
	}{
		{"no bucket", Config{Key: templateKey, Content: strings.NewReader(templateBody)}},
		{"no content", Config{Bucket: testBucket, Key: templateKey}},
		{"missing source", Config{Bucket: testBucket, Source: "testdata/no-existing-file.yml"}},
		{"read error", Config{Bucket: testBucket, Key: templateKey, Content: &brokenContent{ReadSeeker: strings.NewReader(templateBody), readErr: someErr}}},
		{"seek error", Config{Bucket: testBucket, Key: templateKey, Content: &brokenContent{ReadSeeker: strings.NewReader(templateBody), seekErr: someErr}}},
	}
	for _, input := range inputs {
		m := newTestS3()
		f, err := Write(m, input.config)
		require.Nilf(f, input.name)
		require.NotNilf(err, input.name)
		require.Equalf(0, m.Calls("PutObject"), input.name)
	}

	// only not found allows writing
	m := newTestS3()
	conn := &headFailingS3{
		MockS3API: m,
		err:       awserr.NewRequestFailure(awserr.New("Forbidden", "Forbidden", nil), 403, "id"),
	}
	_, err := Write(conn, templateConfig(templateBody))
	require.NotNil(err)
	require.Equal(0, m.Calls("PutObject"))

	m.MockPutObject = func(*s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return nil, someErr
	}
	_, err = Write(m, templateConfig(templateBody))
	require.NotNil(err)
	require.Equal(1, m.Calls("PutObject"))

	// bucket is missing
	_, err = Write(mock.NewMockS3API(), templateConfig(templateBody))
	require.NotNil(err)
}

func TestUpload(t *testing.T) {
	require := require.New(t)
	m := newTestS3()
	uploader := &mock.MockUploader{S3: m}
	archive := bytes.Repeat([]byte("PK\x03\x04"), 2048)

	c := Config{
		Bucket:      testBucket,
		Key:         buildKey,
		Content:     bytes.NewReader(archive),
		ContentType: "application/zip",
		Region:      testRegion,
	}
	f, err := Upload(uploader, c)
	require.Nil(err)
	require.Equal(buildKey, f.Key)
	require.Empty(f.Hash)
	require.Equal("https://"+testBucket+".s3.us-west-2.amazonaws.com/"+buildKey, f.URL)
	require.Equal(archive, m.Object(testBucket, buildKey))

	// unchanged content is uploaded again
	c.Content = bytes.NewReader(archive)
	_, err = Upload(uploader, c)
	require.Nil(err)
	require.Equal(2, m.Calls("Upload"))
	require.Equal(0, m.Calls("HeadObject"))
}

func TestUpload_versionID(t *testing.T) {
	require := require.New(t)
	m := newTestS3()
	m.MockUpload = func(in *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
		require.Equal("builds/"+buildKey, aws.StringValue(in.Key))
		require.Equal("application/zip", aws.StringValue(in.ContentType))
		return &s3manager.UploadOutput{VersionID: aws.String("v1")}, nil
	}

	f, err := Upload(&mock.MockUploader{S3: m}, Config{
		Bucket:      testBucket,
		Prefix:      "builds/",
		Key:         buildKey,
		ContentType: "application/zip",
		Content:     bytes.NewReader(nil),
		Region:      "cn-north-1",
	})
	require.Nil(err)
	require.Equal("v1", f.VersionID)
	require.Equal("https://"+testBucket+".s3.cn-north-1.amazonaws.com.cn/builds/"+buildKey+"?versionId=v1", f.URL)
}

func TestUpload_errors(t *testing.T) {
	require := require.New(t)
	m := newTestS3()
	uploader := &mock.MockUploader{S3: m}

	_, err := Upload(uploader, Config{Key: buildKey, Content: bytes.NewReader(nil)})
	require.NotNil(err)

	_, err = Upload(uploader, Config{Bucket: testBucket, Key: buildKey})
	require.NotNil(err)

	_, err = Upload(uploader, Config{Bucket: testBucket, Source: "testdata/no-existing-file.zip"})
	require.NotNil(err)
	require.Equal(0, m.Calls("Upload"))

	m.MockUpload = func(*s3manager.UploadInput) (*s3manager.UploadOutput, error) {
		return nil, fmt.Errorf("some error")
	}
	_, err = Upload(uploader, Config{Bucket: testBucket, Source: "testdata/s3file.txt"})
	require.NotNil(err)
	require.Equal(1, m.Calls("Upload"))
}

func TestObjectURL(t *testing.T) {
	require := require.New(t)

	require.Equal("https://b.s3.us-west-2.amazonaws.com/"+templateKey, ObjectURL("b", "us-west-2", templateKey))
	require.Equal("https://b.s3.cn-north-1.amazonaws.com.cn/k", ObjectURL("b", "cn-north-1", "k"))
}
