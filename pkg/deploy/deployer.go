// Package deploy drives deployments of GameLift scenarios
// through AWS CloudFormation change sets.
package deploy

import (
	"io/ioutil"
	"os"

	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/archive"
	"github.com/spirius/gldeploy/pkg/cfn"
	"github.com/spirius/gldeploy/pkg/closer"
	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/s3file"
)

// Capabilities acknowledged by every change set.
var Capabilities = []string{cloudformation.CapabilityCapabilityNamedIam}

// Deployer performs the individual steps of a
// deployment in a single region.
type Deployer struct {
	Region    string
	Poller    cfn.Poller
	Formatter Formatter

	// TempDir holds temporary archives. Defaults to os.TempDir().
	TempDir string

	cfnconn  cloudformationiface.CloudFormationAPI
	s3conn   s3iface.S3API
	uploader s3manageriface.UploaderAPI
}

// NewDeployer creates new Deployer.
func NewDeployer(cfnconn cloudformationiface.CloudFormationAPI, s3conn s3iface.S3API, uploader s3manageriface.UploaderAPI, region string) *Deployer {
	return &Deployer{
		Region:   region,
		Poller:   cfn.DefaultPoller,
		cfnconn:  cfnconn,
		s3conn:   s3conn,
		uploader: uploader,
	}
}

func (d *Deployer) newStack(name string) (*cfn.Stack, error) {
	stack, err := cfn.NewStack(d.cfnconn, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stack.Poller = d.Poller
	return stack, nil
}

// ValidateTemplate validates the template file at path.
func (d *Deployer) ValidateTemplate(path string) (*cfn.TemplateData, error) {
	body, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcode.Newf(errcode.TemplateFileNotFound, "template file '%s' not found", path)
		}
		return nil, errcode.Classify(errors.Annotatef(err, "cannot read template"), errcode.UnknownError)
	}
	if len(body) > cfn.MaxTemplateBodySize {
		return nil, errcode.Newf(errcode.InvalidCfnTemplate, "template is larger than %d bytes", cfn.MaxTemplateBodySize)
	}
	data, err := cfn.ValidateTemplate(d.cfnconn, string(body), "")
	if err != nil {
		log.WithError(err).Errorf("template %s is not valid", path)
		return nil, errcode.Classify(err, errcode.InvalidCfnTemplate)
	}
	return data, nil
}

// UploadBuild archives folder and uploads it to bucket with key.
// The temporary archive is always removed.
func (d *Deployer) UploadBuild(bucket, folder, key string) (*s3file.File, error) {
	if bucket == "" || folder == "" || key == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "bucket, build folder and key are required")
	}
	return d.uploadFolder(bucket, folder, key)
}

func (d *Deployer) uploadFolder(bucket, folder, key string) (*s3file.File, error) {
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return nil, errcode.Newf(errcode.FileNotFound, "folder '%s' not found", folder)
	}

	path := archive.TempPath(d.TempDir)
	if err := archive.Zip(folder, path); err != nil {
		return nil, errcode.Classify(err, errcode.UnknownError)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warnf("cannot remove %s", path)
		}
	}()

	f, err := s3file.Upload(d.uploader, s3file.Config{
		Bucket:      bucket,
		Key:         key,
		Source:      path,
		ContentType: "application/zip",
		Region:      d.Region,
	})
	if err != nil {
		log.WithError(err).Errorf("cannot upload %s", folder)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	log.Infof("uploaded %s to s3://%s/%s", folder, bucket, key)
	return f, nil
}

func (d *Deployer) uploadTemplate(bucket, path string) (*s3file.File, error) {
	f, err := s3file.Write(d.s3conn, s3file.Config{
		Bucket:      bucket,
		Key:         d.Formatter.TemplateKey(path),
		Source:      path,
		ContentType: "application/x-yaml",
		MaxSize:     cfn.MaxTemplateBodySize,
		Region:      d.Region,
	})
	if err != nil {
		log.WithError(err).Errorf("cannot upload template %s", path)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	return f, nil
}

// CreateChangeSet uploads the template and creates the change set
// of req. The stack is created if it does not exist yet.
func (d *Deployer) CreateChangeSet(req Request, fileParams map[string]string) (*cfn.ChangeSet, error) {
	stack, err := d.newStack(req.StackName)
	if err != nil {
		log.WithError(err).Errorf("cannot read stack %s", req.StackName)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	current := stack.Data()

	tpl, err := d.uploadTemplate(req.BucketName, req.TemplatePath)
	if err != nil {
		return nil, errors.Trace(err)
	}

	a := artifacts{}
	if req.BuildS3Key != "" {
		a.buildBucket, a.buildKey = req.BucketName, req.BuildS3Key
	}
	if req.LambdaFolderPath != "" {
		key := d.Formatter.LambdaS3Key(req.GameName)
		if _, err := d.uploadFolder(req.BucketName, req.LambdaFolderPath, key); err != nil {
			return nil, errors.Trace(err)
		}
		a.lambdaBucket, a.lambdaKey = req.BucketName, key
	}

	name := req.ChangeSetName
	if name == "" {
		name = d.Formatter.ChangeSetName()
	}

	csData := &cfn.ChangeSetData{
		Name:  name,
		IsNew: !current.Exists() || current.IsReviewInProgress(),
		StackData: &cfn.StackData{
			ID:           current.ID,
			Name:         req.StackName,
			Capabilities: Capabilities,
			Parameters:   stackParameters(req, fileParams, a),
			TemplateURL:  tpl.URL,
		},
	}

	cs, err := cfn.CreateChangeSet(d.cfnconn, csData)
	if err != nil {
		log.WithError(err).Errorf("cannot create change set %s", name)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	cs.Poller = d.Poller
	log.WithField("stack", req.StackName).Infof("change set %s created", name)
	return cs, nil
}

// waitChangeSet blocks until change set creation finishes
// or c is closed.
func (d *Deployer) waitChangeSet(cs *cfn.ChangeSet, c *closer.Closer) (*cfn.ChangeSetData, error) {
	err := cs.Poll(cfn.WaitConfig{Closer: c}, func(data *cfn.ChangeSetData) (bool, error) {
		return data.Exists() && !data.IsReady(), nil
	})
	if err != nil {
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	return cs.Data(), nil
}

// DescribeChangeSet returns the change set of stack.
func (d *Deployer) DescribeChangeSet(stackName, name string) (*ChangeSetDescription, error) {
	if stackName == "" || name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "stack and change set names are required")
	}
	cs, err := d.openChangeSet(stackName, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newChangeSetDescription(cs.Data()), nil
}

func (d *Deployer) openChangeSet(stackName, name string) (*cfn.ChangeSet, error) {
	cs, err := cfn.NewChangeSet(d.cfnconn, &cfn.ChangeSetData{
		Name:      name,
		StackData: &cfn.StackData{Name: stackName},
	})
	if err != nil {
		if errcode.AWSCode(err) == "ValidationError" {
			return nil, errcode.Wrap(errcode.ChangeSetNotFound, err)
		}
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	if !cs.Data().Exists() {
		return nil, errcode.Newf(errcode.ChangeSetNotFound, "change set '%s' of stack '%s' not found", name, stackName)
	}
	cs.Poller = d.Poller
	return cs, nil
}

// DescribeStack returns the current state of stack.
func (d *Deployer) DescribeStack(name string) (*StackDescriptor, error) {
	if name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "stack name is required")
	}
	stack, err := d.newStack(name)
	if err != nil {
		return nil, errcode.Classify(err, errcode.StackDoesNotExist)
	}
	if !stack.Data().Exists() {
		return nil, errcode.Newf(errcode.StackDoesNotExist, "stack '%s' does not exist", name)
	}
	return newStackDescriptor(stack.Data()), nil
}

// StackExists indicates if stack exists.
func (d *Deployer) StackExists(name string) (bool, error) {
	if name == "" {
		return false, errcode.Newf(errcode.InvalidParameters, "stack name is required")
	}
	stack, err := d.newStack(name)
	if err != nil {
		return false, errcode.Classify(err, errcode.AwsError)
	}
	return stack.Data().Exists(), nil
}

// DeleteChangeSet deletes the change set of stack.
// Missing change sets are ignored.
func (d *Deployer) DeleteChangeSet(stackName, name string) error {
	if stackName == "" || name == "" {
		return errcode.Newf(errcode.InvalidParameters, "stack and change set names are required")
	}
	cs, err := d.openChangeSet(stackName, name)
	if err != nil {
		if errcode.Is(err, errcode.ChangeSetNotFound) {
			return nil
		}
		return errors.Trace(err)
	}
	if err := cs.Delete(); err != nil {
		return errcode.Classify(err, errcode.AwsError)
	}
	return nil
}

// DeleteStack deletes stack. If wait is set, it blocks
// until deletion finishes or c is closed.
func (d *Deployer) DeleteStack(name string, wait bool, c *closer.Closer) (*StackDescriptor, error) {
	if name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "stack name is required")
	}
	stack, err := d.newStack(name)
	if err != nil {
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	if !stack.Data().Exists() {
		return nil, errcode.Newf(errcode.StackDoesNotExist, "stack '%s' does not exist", name)
	}
	if err := stack.Destroy(); err != nil {
		log.WithError(err).Errorf("cannot delete stack %s", name)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	log.WithField("stack", name).Info("stack deletion started")
	if !wait {
		return newStackDescriptor(stack.Data()), nil
	}

	err = stack.Poll(cfn.WaitConfig{Closer: c}, func(sd *cfn.StackData) (bool, error) {
		return !sd.IsTerminal(), nil
	})
	if err != nil {
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	sd := stack.Data()
	if sd.Status == cloudformation.StackStatusDeleteFailed {
		return newStackDescriptor(sd), errcode.Newf(errcode.AwsError, "%s: %s", sd.Status, sd.StatusReason)
	}
	return newStackDescriptor(sd), nil
}

// CancelStackUpdate rolls back the update in progress on stack. Stacks
// without an update in progress are returned unchanged.
func (d *Deployer) CancelStackUpdate(name string) (*StackDescriptor, error) {
	if name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "stack name is required")
	}
	stack, err := d.newStack(name)
	if err != nil {
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	sd := stack.Data()
	if !sd.Exists() {
		return nil, errcode.Newf(errcode.StackDoesNotExist, "stack '%s' does not exist", name)
	}
	if sd.Status != cloudformation.StackStatusUpdateInProgress {
		log.WithField("stack", name).Infof("no update in progress, status %s", sd.Status)
		return newStackDescriptor(sd), nil
	}
	if err := stack.CancelUpdate(uuid.New().String()); err != nil {
		log.WithError(err).Errorf("cannot cancel update of %s", name)
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	if err := stack.Refresh(); err != nil {
		return nil, errcode.Classify(err, errcode.AwsError)
	}
	log.WithField("stack", name).Info("stack update cancelled")
	return newStackDescriptor(stack.Data()), nil
}
