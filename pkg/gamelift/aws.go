package gamelift

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/arn"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/credentials"
	"github.com/spirius/gldeploy/pkg/errcode"
)

// Clients are the AWS API clients of a profile in a region.
type Clients struct {
	Profile   string
	Region    string
	AccountID string

	CloudFormation cloudformationiface.CloudFormationAPI
	S3             s3iface.S3API
	Uploader       s3manageriface.UploaderAPI
}

// ClientFactory creates AWS clients for a profile in a region.
type ClientFactory func(profile, region string) (*Clients, error)

// retryThrottledDescribe makes throttled status reads retryable.
// Long polls of stack status and events hit the rate limit.
func retryThrottledDescribe(r *request.Request) {
	switch r.Operation.Name {
	case "DescribeStackEvents", "DescribeStacks", "DescribeChangeSet":
	default:
		return
	}
	if e, ok := r.Error.(awserr.Error); ok && e.Code() == "Throttling" && strings.Contains(e.Message(), "Rate exceeded") {
		r.Retryable = aws.Bool(true)
	}
}

func accountID(conn stsiface.STSAPI) (string, error) {
	out, err := conn.GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		log.WithError(err).Error("cannot identify caller")
		return "", errcode.Classify(err, errcode.AwsError)
	}

	identityArn, err := arn.Parse(aws.StringValue(out.Arn))
	if err != nil {
		log.WithError(err).Errorf("cannot parse identity %s", aws.StringValue(out.Arn))
		return "", errcode.Wrap(errcode.AwsError, err)
	}
	return identityArn.AccountID, nil
}

func newClients(sess *session.Session, profile string) (*Clients, error) {
	c := &Clients{
		Profile: profile,
		Region:  aws.StringValue(sess.Config.Region),
	}

	s3conn := s3.New(sess)
	c.S3 = s3conn
	c.Uploader = s3manager.NewUploaderWithClient(s3conn)

	cfnconn := cloudformation.New(sess)
	cfnconn.Handlers.Retry.PushBack(retryThrottledDescribe)
	c.CloudFormation = cfnconn

	var err error
	if c.AccountID, err = accountID(sts.New(sess)); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionClients returns the ClientFactory creating real AWS
// clients authenticated with profiles of store.
func SessionClients(store *credentials.Store) ClientFactory {
	return func(profile, region string) (*Clients, error) {
		sess, err := store.Session(profile, region)
		if err != nil {
			return nil, err
		}
		return newClients(sess, profile)
	}
}
