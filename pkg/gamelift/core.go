// Package gamelift wires settings, credentials, buckets and
// deployments of GameLift scenarios into a single API.
package gamelift

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/bucket"
	"github.com/spirius/gldeploy/pkg/cfn"
	"github.com/spirius/gldeploy/pkg/credentials"
	"github.com/spirius/gldeploy/pkg/deploy"
	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/localtest"
	"github.com/spirius/gldeploy/pkg/region"
	"github.com/spirius/gldeploy/pkg/settings"
)

// Files of a scenario folder.
const (
	TemplateFileName   = "cloudformation.yml"
	ParametersFileName = "parameters.json"
	LambdaFolderName   = "lambda"
)

// Core is high level API for bootstrapping and deploying
// GameLift scenarios.
type Core struct {
	Config      *Config
	Settings    *settings.Store
	Credentials *credentials.Store
	Regions     *region.Catalog
	Formatter   deploy.Formatter
	Poller      cfn.Poller

	// Clients creates AWS clients. Defaults to real sessions
	// of Credentials profiles.
	Clients ClientFactory
}

// NewCore creates new instance of Core from config.
func NewCore(config *Config) *Core {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Core{
		Config:      config,
		Settings:    settings.New(config.SettingsFile),
		Credentials: credentials.New(config.CredentialsFile, config.AWSConfigFile),
		Regions:     region.Default(),
		Poller:      config.Poller(),
	}
	c.Credentials.Resolver = c.Regions
	c.Clients = SessionClients(c.Credentials)
	return c
}

// Setting returns the value of key, or empty string
// if the key or the document is missing.
func (c *Core) Setting(key string) (string, error) {
	v, err := c.Settings.Get(key)
	if errcode.Is(err, errcode.NoSettingsKeyFound) || errcode.Is(err, errcode.NoSettingsFileFound) {
		return "", nil
	}
	return v, err
}

// resolve fills empty profile and region from settings.
func (c *Core) resolve(profile, regionCode string) (string, string, error) {
	var err error
	if profile == "" {
		if profile, err = c.Setting(settings.CurrentProfileName); err != nil {
			return "", "", err
		}
	}
	if regionCode == "" {
		if regionCode, err = c.Setting(settings.CurrentRegion); err != nil {
			return "", "", err
		}
	}
	if profile == "" {
		return "", "", errcode.Newf(errcode.InvalidParameters, "profile is not set")
	}
	if !c.Regions.IsValidRegion(regionCode) {
		return "", "", errcode.Newf(errcode.InvalidRegion, "region '%s' is not supported", regionCode)
	}
	return profile, regionCode, nil
}

// Connect creates AWS clients of profile in region. Empty
// arguments are taken from settings.
func (c *Core) Connect(profile, regionCode string) (*Clients, error) {
	profile, regionCode, err := c.resolve(profile, regionCode)
	if err != nil {
		return nil, err
	}
	log.Debugf("connecting with profile %s in %s (%s)", profile, regionCode, c.Regions.Partition(regionCode))
	return c.Clients(profile, regionCode)
}

// Buckets returns the bucket provisioner of profile in region.
func (c *Core) Buckets(profile, regionCode string) (*bucket.Provisioner, error) {
	clients, err := c.Connect(profile, regionCode)
	if err != nil {
		return nil, err
	}
	return bucket.New(clients.S3, c.Regions), nil
}

// BootstrapResult describes the bootstrapped bucket.
type BootstrapResult struct {
	Profile    string
	Region     string
	BucketName string
	Policy     bucket.Policy
	URL        string
}

// Bootstrap creates the staging bucket, applies its lifecycle policy
// and makes profile, region and bucket current. Empty bucket name
// is derived from the account id.
func (c *Core) Bootstrap(profile, regionCode, bucketName string, policy bucket.Policy) (*BootstrapResult, error) {
	if !policy.IsValid() {
		return nil, errcode.Newf(errcode.InvalidBucketPolicy, "undefined bucket policy %d", int(policy))
	}
	clients, err := c.Connect(profile, regionCode)
	if err != nil {
		return nil, err
	}
	if bucketName == "" {
		bucketName = bucket.FormatBucketName(clients.AccountID, clients.Region)
	}

	p := bucket.New(clients.S3, c.Regions)
	if err := p.CreateBucket(bucketName, clients.Region); err != nil {
		return nil, err
	}
	if err := p.PutLifecyclePolicy(bucketName, policy); err != nil {
		return nil, err
	}

	for _, kv := range [][2]string{
		{settings.CurrentProfileName, clients.Profile},
		{settings.CurrentRegion, clients.Region},
		{settings.CurrentBucketName, bucketName},
		{settings.IsBootstrapped, "True"},
	} {
		if err := c.Settings.Put(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}

	return &BootstrapResult{
		Profile:    clients.Profile,
		Region:     clients.Region,
		BucketName: bucketName,
		Policy:     policy,
		URL:        bucket.BucketURL(bucketName, clients.Region),
	}, nil
}

// Scenario locates files of a scenario folder.
type Scenario struct {
	Name           string
	Path           string
	TemplatePath   string
	ParametersPath string

	// LambdaFolderPath is empty if scenario has no lambda folder.
	LambdaFolderPath string
}

// Scenario returns the scenario called name.
func (c *Core) Scenario(name string) (*Scenario, error) {
	if name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "scenario name is required")
	}
	dir := filepath.Join(c.Config.ScenariosPath, name)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, errcode.Newf(errcode.FileNotFound, "scenario folder '%s' not found", dir)
	}
	s := &Scenario{
		Name:           name,
		Path:           dir,
		TemplatePath:   filepath.Join(dir, TemplateFileName),
		ParametersPath: filepath.Join(dir, ParametersFileName),
	}
	lambda := filepath.Join(dir, LambdaFolderName)
	if st, err := os.Stat(lambda); err == nil && st.IsDir() {
		s.LambdaFolderPath = lambda
	}
	return s, nil
}

// NewDeploymentRequest assembles the deployment request of
// scenario from settings and config.
func (c *Core) NewDeploymentRequest(scenario string) (deploy.Request, error) {
	s, err := c.Scenario(scenario)
	if err != nil {
		return deploy.Request{}, err
	}

	req := deploy.Request{
		ScenarioName:     s.Name,
		GameName:         c.Config.GameName,
		TemplatePath:     s.TemplatePath,
		ParametersPath:   s.ParametersPath,
		LambdaFolderPath: s.LambdaFolderPath,
		BuildFolderPath:  c.Config.BuildFolder,
		AlwaysConfirm:    c.Config.AlwaysConfirm,
	}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{settings.CurrentProfileName, &req.Profile},
		{settings.CurrentRegion, &req.Region},
		{settings.CurrentBucketName, &req.BucketName},
		{settings.ServerBuildPath, &req.BuildFolderPath},
	} {
		v, err := c.Setting(f.key)
		if err != nil {
			return deploy.Request{}, err
		}
		if v != "" {
			*f.dst = v
		}
	}
	if req.GameName != "" {
		req.StackName = c.Formatter.StackName(req.GameName)
	}
	if req.BuildFolderPath != "" {
		req.BuildS3Key = c.Formatter.BuildS3Key()
	}

	req.Parameters, err = renderParameters(c.Config.Parameters, parameterContext{
		GameName:  req.GameName,
		Profile:   req.Profile,
		Region:    req.Region,
		Bucket:    req.BucketName,
		BuildKey:  req.BuildS3Key,
		StackName: req.StackName,
		Scenario:  req.ScenarioName,
	}, s.Path)
	if err != nil {
		log.WithError(err).Error("cannot render parameter overrides")
		return deploy.Request{}, errcode.Wrap(errcode.InvalidParameters, errors.Cause(err))
	}

	return req, nil
}

// Deployer creates the deployer of profile in region.
func (c *Core) Deployer(profile, regionCode string) (*deploy.Deployer, error) {
	clients, err := c.Connect(profile, regionCode)
	if err != nil {
		return nil, err
	}
	d := deploy.NewDeployer(clients.CloudFormation, clients.S3, clients.Uploader, clients.Region)
	d.Poller = c.Poller
	d.Formatter = c.Formatter
	return d, nil
}

// Orchestrator creates the orchestrator deploying req.
func (c *Core) Orchestrator(req deploy.Request) (*deploy.Orchestrator, error) {
	d, err := c.Deployer(req.Profile, req.Region)
	if err != nil {
		return nil, err
	}
	return deploy.New(d), nil
}

// RecordDeployment persists the deployment id of a successful outcome.
func (c *Core) RecordDeployment(out deploy.Outcome) error {
	if out.DeploymentID == nil {
		return nil
	}
	return c.Settings.Put(settings.LastDeploymentID, out.DeploymentID.String())
}

// LastDeployment returns the most recently recorded deployment.
func (c *Core) LastDeployment() (deploy.DeploymentID, error) {
	v, err := c.Settings.Get(settings.LastDeploymentID)
	if err != nil {
		return deploy.DeploymentID{}, err
	}
	return deploy.ParseDeploymentID(v)
}

// LocalStartRequest returns GameLift Local configuration, settings
// taking precedence over config.
func (c *Core) LocalStartRequest() (localtest.StartRequest, error) {
	req := localtest.StartRequest{
		GameLiftLocalPath: c.Config.GameLiftLocal.Path,
		Port:              c.Config.GameLiftLocal.Port,
	}
	path, err := c.Setting(settings.GameLiftLocalPath)
	if err != nil {
		return req, err
	}
	if path != "" {
		req.GameLiftLocalPath = path
	}
	port, err := c.Setting(settings.GameLiftLocalPort)
	if err != nil {
		return req, err
	}
	if port != "" {
		if req.Port, err = strconv.Atoi(port); err != nil {
			return req, errcode.Newf(errcode.InvalidParameters, "invalid GameLift Local port '%s'", port)
		}
	}
	return req, nil
}
