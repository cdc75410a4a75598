// Package bucket provisions S3 buckets used to stage
// server builds and templates.
package bucket

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/region"
)

const (
	minNameLength = 3
	maxNameLength = 63

	// RulePrefix is the prefix of lifecycle rule ids
	// created by PutLifecyclePolicy.
	RulePrefix = "GameLiftBootstrapBucketRule_"

	// LocationLookupConcurrency limits parallel bucket
	// location lookups of ListBuckets.
	LocationLookupConcurrency = 8
)

var (
	nameRegexp = regexp.MustCompile(`^(([a-z0-9]|[a-z0-9][a-z0-9\-]*[a-z0-9])\.)*([a-z0-9]|[a-z0-9][a-z0-9\-]*[a-z0-9])$`)
	ipv4Regexp = regexp.MustCompile(`^(\d+\.)+\d+$`)
	keyRegexp  = regexp.MustCompile(`[^a-z0-9-]`)
)

// Policy is the number of days after which
// objects in bucket expire.
type Policy int

// Lifecycle policies.
const (
	None       Policy = 0
	SevenDays  Policy = 7
	ThirtyDays Policy = 30
)

var policyNames = map[Policy]string{
	None:       "None",
	SevenDays:  "SevenDaysLifecycle",
	ThirtyDays: "ThirtyDaysLifecycle",
}

// Policies lists all defined policies.
var Policies = []Policy{None, SevenDays, ThirtyDays}

// IsValid indicates if p is a defined policy.
func (p Policy) IsValid() bool {
	_, ok := policyNames[p]
	return ok
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses policy either by name or by number of days.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range Policies {
		if strings.EqualFold(s, p.String()) || s == fmt.Sprintf("%d", int(p)) {
			return p, nil
		}
	}
	return None, errcode.Newf(errcode.InvalidBucketPolicy, "unknown bucket policy '%s'", s)
}

// ValidName indicates if name follows S3 bucket naming rules.
func ValidName(name string) bool {
	if len(name) < minNameLength || len(name) > maxNameLength {
		return false
	}
	if ipv4Regexp.MatchString(name) {
		return false
	}
	return nameRegexp.MatchString(name)
}

func formatKey(value string) string {
	return keyRegexp.ReplaceAllString(strings.ToLower(value), "")
}

// FormatBucketName returns the name of bootstrap
// bucket for the account in region.
func FormatBucketName(account, region string) string {
	return fmt.Sprintf("gamelift-bootstrap-%s-%s", formatKey(account), formatKey(region))
}

// BucketURL returns the console URL of the bucket.
func BucketURL(name, region string) string {
	return fmt.Sprintf("https://s3.console.aws.amazon.com/s3/buckets/%s?region=%s", name, region)
}

// Provisioner creates and inspects buckets.
type Provisioner struct {
	s3conn  s3iface.S3API
	regions *region.Catalog
}

// New creates new Provisioner.
func New(s3conn s3iface.S3API, regions *region.Catalog) *Provisioner {
	return &Provisioner{s3conn: s3conn, regions: regions}
}

// BucketExists indicates if bucket exists. Buckets owned
// by other accounts are reported as existing.
func (p *Provisioner) BucketExists(name string) (bool, error) {
	_, err := p.s3conn.HeadBucket(&s3.HeadBucketInput{
		Bucket: aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	switch errcode.StatusCode(err) {
	case 404:
		return false, nil
	case 403:
		return true, nil
	}
	return false, errors.Annotatef(err, "cannot check bucket '%s'", name)
}

// CreateBucket validates the region and the name, and creates
// the bucket in region. Nothing is created if any check fails,
// and malformed names never reach S3.
func (p *Provisioner) CreateBucket(name, regionCode string) error {
	if !p.regions.IsValidRegion(regionCode) {
		return errcode.Newf(errcode.InvalidRegion, "region '%s' is not supported", regionCode)
	}
	if !ValidName(name) {
		return errcode.Newf(errcode.BucketNameIsWrong, "'%s' is not a valid bucket name", name)
	}

	exists, err := p.BucketExists(name)
	if err != nil {
		log.WithError(err).Errorf("cannot check bucket %s", name)
		return errcode.Classify(err, errcode.AwsError)
	}
	if exists {
		return errcode.Newf(errcode.BucketNameAlreadyExists, "bucket '%s' already exists", name)
	}

	in := &s3.CreateBucketInput{
		Bucket: aws.String(name),
	}
	if regionCode != "us-east-1" {
		in.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(regionCode),
		}
	}
	if _, err := p.s3conn.CreateBucket(in); err != nil {
		log.WithError(err).Errorf("cannot create bucket %s", name)
		return errcode.Classify(err, errcode.AwsError)
	}
	log.Infof("bucket %s created in %s", name, regionCode)
	return nil
}

// lifecycleRules returns the current rules of bucket.
// Missing configuration has no rules.
func (p *Provisioner) lifecycleRules(name string) ([]*s3.LifecycleRule, error) {
	out, err := p.s3conn.GetBucketLifecycleConfiguration(&s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		if errcode.StatusCode(err) == 404 || errcode.AWSCode(err) == "NoSuchLifecycleConfiguration" {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "cannot read lifecycle configuration of '%s'", name)
	}
	return out.Rules, nil
}

// PutLifecyclePolicy adds an expiration rule to the lifecycle
// configuration of bucket. Existing rules are kept.
func (p *Provisioner) PutLifecyclePolicy(name string, policy Policy) error {
	if !policy.IsValid() {
		return errcode.Newf(errcode.InvalidBucketPolicy, "undefined bucket policy %d", int(policy))
	}
	if policy == None {
		return nil
	}

	rules, err := p.lifecycleRules(name)
	if err != nil {
		log.WithError(err).Errorf("cannot read lifecycle of %s", name)
		return errcode.Classify(err, errcode.AwsError)
	}

	rules = append(rules, &s3.LifecycleRule{
		ID:     aws.String(RulePrefix + uuid.New().String()),
		Filter: &s3.LifecycleRuleFilter{Prefix: aws.String("")},
		Expiration: &s3.LifecycleExpiration{
			Days: aws.Int64(int64(policy)),
		},
		Status: aws.String(s3.ExpirationStatusEnabled),
	})

	_, err = p.s3conn.PutBucketLifecycleConfiguration(&s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(name),
		LifecycleConfiguration: &s3.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	if err != nil {
		log.WithError(err).Errorf("cannot put lifecycle of %s", name)
		return errcode.Classify(err, errcode.AwsError)
	}
	return nil
}

// ListBuckets returns names of all buckets. If regionFilter is not
// empty, only buckets located in that region are returned. Buckets
// whose location cannot be read are skipped.
func (p *Provisioner) ListBuckets(regionFilter string) ([]string, error) {
	out, err := p.s3conn.ListBuckets(&s3.ListBucketsInput{})
	if err != nil {
		log.WithError(err).Error("cannot list buckets")
		return nil, errcode.Classify(err, errcode.AwsError)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.StringValue(b.Name))
	}
	if regionFilter == "" {
		return names, nil
	}

	var (
		wg    sync.WaitGroup
		sem   = make(chan struct{}, LocationLookupConcurrency)
		match = make([]bool, len(names))
	)
	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, name string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			loc, err := p.location(name)
			if err != nil {
				log.WithError(err).Debugf("skipping bucket %s", name)
				return
			}
			match[i] = loc == regionFilter
		}(i, name)
	}
	wg.Wait()

	res := make([]string, 0, len(names))
	for i, name := range names {
		if match[i] {
			res = append(res, name)
		}
	}
	return res, nil
}

func (p *Provisioner) location(name string) (string, error) {
	out, err := p.s3conn.GetBucketLocation(&s3.GetBucketLocationInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return s3.NormalizeBucketLocation(aws.StringValue(out.LocationConstraint)), nil
}

// ListAvailableRegions returns regions where buckets can be created.
func (p *Provisioner) ListAvailableRegions() []string {
	return p.regions.AvailableRegions()
}

// ListBucketPolicies returns all lifecycle policies.
func (p *Provisioner) ListBucketPolicies() []Policy {
	return append([]Policy(nil), Policies...)
}
