package s3file

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type object struct {
	data        []byte
	contentType string
	etag        string
}

type bucket struct {
	region    string
	lifecycle []*s3.LifecycleRule
	objects   map[string]*object
}

// MockS3API is the mock for AWS S3 API.
type MockS3API struct {
	s3iface.S3API

	lock    sync.Mutex
	buckets map[string]*bucket
	calls   map[string]int

	// MockCreateBucket can be used to mock the call to CreateBucket API.
	MockCreateBucket func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error)

	// MockHeadBucket can be used to mock the call to HeadBucket API.
	MockHeadBucket func(*s3.HeadBucketInput) (*s3.HeadBucketOutput, error)

	// MockListBuckets can be used to mock the call to ListBuckets API.
	MockListBuckets func(*s3.ListBucketsInput) (*s3.ListBucketsOutput, error)

	// MockGetBucketLocation can be used to mock the call to GetBucketLocation API.
	MockGetBucketLocation func(*s3.GetBucketLocationInput) (*s3.GetBucketLocationOutput, error)

	// MockGetBucketLifecycleConfiguration can be used to mock the call to GetBucketLifecycleConfiguration API.
	MockGetBucketLifecycleConfiguration func(*s3.GetBucketLifecycleConfigurationInput) (*s3.GetBucketLifecycleConfigurationOutput, error)

	// MockPutBucketLifecycleConfiguration can be used to mock the call to PutBucketLifecycleConfiguration API.
	MockPutBucketLifecycleConfiguration func(*s3.PutBucketLifecycleConfigurationInput) (*s3.PutBucketLifecycleConfigurationOutput, error)

	// MockPutObject can be used to mock the call to PutObject API.
	MockPutObject func(*s3.PutObjectInput) (*s3.PutObjectOutput, error)

	// MockUpload can be used to mock uploads through MockUploader.
	MockUpload func(*s3manager.UploadInput) (*s3manager.UploadOutput, error)
}

// NewMockS3API creates new mock of S3 API.
func NewMockS3API() *MockS3API {
	return &MockS3API{
		buckets: make(map[string]*bucket),
		calls:   make(map[string]int),
	}
}

func (c *MockS3API) called(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.calls[name]++
}

// Calls returns the number of invocations of API method.
func (c *MockS3API) Calls(name string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.calls[name]
}

func notFound(code, message string) error {
	return awserr.NewRequestFailure(awserr.New(code, message, nil), 404, "mock")
}

// AddBucket adds bucket in region to mock implementation.
func (c *MockS3API) AddBucket(name, region string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.buckets[name] = &bucket{region: region, objects: make(map[string]*object)}
}

// Object returns the content of object, or nil if it does not exist.
func (c *MockS3API) Object(bucketName, key string) []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	b := c.buckets[bucketName]
	if b == nil || b.objects[key] == nil {
		return nil
	}
	return b.objects[key].data
}

// Keys returns sorted object keys of bucket.
func (c *MockS3API) Keys(bucketName string) []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	var keys []string
	if b := c.buckets[bucketName]; b != nil {
		for k := range b.objects {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LifecycleRules returns lifecycle rules of bucket.
func (c *MockS3API) LifecycleRules(bucketName string) []*s3.LifecycleRule {
	c.lock.Lock()
	defer c.lock.Unlock()
	if b := c.buckets[bucketName]; b != nil {
		return b.lifecycle
	}
	return nil
}

// CreateBucket invokes the mocked method if it is set,
// otherwise bucket is created in the location constraint region.
func (c *MockS3API) CreateBucket(in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
	c.called("CreateBucket")
	if c.MockCreateBucket != nil {
		return c.MockCreateBucket(in)
	}
	name := aws.StringValue(in.Bucket)
	region := "us-east-1"
	if in.CreateBucketConfiguration != nil && in.CreateBucketConfiguration.LocationConstraint != nil {
		region = aws.StringValue(in.CreateBucketConfiguration.LocationConstraint)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.buckets[name]; ok {
		return nil, awserr.NewRequestFailure(awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "bucket already exists", nil), 409, "mock")
	}
	c.buckets[name] = &bucket{region: region, objects: make(map[string]*object)}
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

// HeadBucket invokes the mocked method if it is set,
// otherwise returns 404 error for missing buckets.
func (c *MockS3API) HeadBucket(in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
	c.called("HeadBucket")
	if c.MockHeadBucket != nil {
		return c.MockHeadBucket(in)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.buckets[aws.StringValue(in.Bucket)]; !ok {
		return nil, notFound("NotFound", "Not Found")
	}
	return &s3.HeadBucketOutput{}, nil
}

// ListBuckets invokes the mocked method if it is set,
// otherwise returns all buckets sorted by name.
func (c *MockS3API) ListBuckets(in *s3.ListBucketsInput) (*s3.ListBucketsOutput, error) {
	c.called("ListBuckets")
	if c.MockListBuckets != nil {
		return c.MockListBuckets(in)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	var names []string
	for name := range c.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := &s3.ListBucketsOutput{}
	for _, name := range names {
		out.Buckets = append(out.Buckets, &s3.Bucket{Name: aws.String(name)})
	}
	return out, nil
}

// GetBucketLocation invokes the mocked method if it is set, otherwise
// returns the location constraint, which is empty for us-east-1.
func (c *MockS3API) GetBucketLocation(in *s3.GetBucketLocationInput) (*s3.GetBucketLocationOutput, error) {
	c.called("GetBucketLocation")
	if c.MockGetBucketLocation != nil {
		return c.MockGetBucketLocation(in)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	b, ok := c.buckets[aws.StringValue(in.Bucket)]
	if !ok {
		return nil, notFound(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist")
	}
	out := &s3.GetBucketLocationOutput{}
	if b.region != "us-east-1" {
		out.LocationConstraint = aws.String(b.region)
	}
	return out, nil
}

// GetBucketLifecycleConfiguration invokes the mocked method if it is set,
// otherwise returns stored rules or NoSuchLifecycleConfiguration error.
func (c *MockS3API) GetBucketLifecycleConfiguration(in *s3.GetBucketLifecycleConfigurationInput) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	c.called("GetBucketLifecycleConfiguration")
	if c.MockGetBucketLifecycleConfiguration != nil {
		return c.MockGetBucketLifecycleConfiguration(in)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	b, ok := c.buckets[aws.StringValue(in.Bucket)]
	if !ok {
		return nil, notFound(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist")
	}
	if len(b.lifecycle) == 0 {
		return nil, notFound("NoSuchLifecycleConfiguration", "The lifecycle configuration does not exist")
	}
	return &s3.GetBucketLifecycleConfigurationOutput{Rules: b.lifecycle}, nil
}

// PutBucketLifecycleConfiguration invokes the mocked method if it is set,
// otherwise replaces the rules of bucket.
func (c *MockS3API) PutBucketLifecycleConfiguration(in *s3.PutBucketLifecycleConfigurationInput) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	c.called("PutBucketLifecycleConfiguration")
	if c.MockPutBucketLifecycleConfiguration != nil {
		return c.MockPutBucketLifecycleConfiguration(in)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	b, ok := c.buckets[aws.StringValue(in.Bucket)]
	if !ok {
		return nil, notFound(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist")
	}
	b.lifecycle = nil
	if in.LifecycleConfiguration != nil {
		b.lifecycle = in.LifecycleConfiguration.Rules
	}
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (c *MockS3API) putObject(bucketName, key, contentType string, body io.Reader) (string, error) {
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	etag := fmt.Sprintf(`"%s"`, hex.EncodeToString(sum[:]))

	c.lock.Lock()
	defer c.lock.Unlock()
	b, ok := c.buckets[bucketName]
	if !ok {
		return "", notFound(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist")
	}
	b.objects[key] = &object{data: data, contentType: contentType, etag: etag}
	return etag, nil
}

// PutObject invokes the mocked method if it is set,
// otherwise stores the object.
func (c *MockS3API) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	c.called("PutObject")
	if c.MockPutObject != nil {
		return c.MockPutObject(in)
	}
	etag, err := c.putObject(aws.StringValue(in.Bucket), aws.StringValue(in.Key), aws.StringValue(in.ContentType), in.Body)
	if err != nil {
		return nil, err
	}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

// HeadObject returns metadata of stored object.
func (c *MockS3API) HeadObject(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	c.called("HeadObject")
	c.lock.Lock()
	defer c.lock.Unlock()
	b, ok := c.buckets[aws.StringValue(in.Bucket)]
	if !ok {
		return nil, notFound("NotFound", "Not Found")
	}
	o, ok := b.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound("NotFound", "Not Found")
	}
	return &s3.HeadObjectOutput{
		ETag:          aws.String(o.etag),
		ContentType:   aws.String(o.contentType),
		ContentLength: aws.Int64(int64(len(o.data))),
	}, nil
}

// MockUploader implements s3manager uploader over MockS3API.
type MockUploader struct {
	S3 *MockS3API
}

// Upload invokes MockUpload of S3 if it is set,
// otherwise stores the object.
func (u *MockUploader) Upload(in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	u.S3.called("Upload")
	if u.S3.MockUpload != nil {
		return u.S3.MockUpload(in)
	}
	body := in.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}
	if _, err := u.S3.putObject(aws.StringValue(in.Bucket), aws.StringValue(in.Key), aws.StringValue(in.ContentType), body); err != nil {
		return nil, err
	}
	return &s3manager.UploadOutput{
		Location: fmt.Sprintf("https://%s.s3.amazonaws.com/%s", aws.StringValue(in.Bucket), aws.StringValue(in.Key)),
	}, nil
}

// UploadWithContext is the same as Upload.
func (u *MockUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return u.Upload(in, opts...)
}
