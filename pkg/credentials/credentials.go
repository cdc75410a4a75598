// Package credentials manages named AWS credential profiles
// in the shared credentials file.
package credentials

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-ini/ini"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/atomicfile"
	"github.com/spirius/gldeploy/pkg/errcode"
)

const (
	accessKeyIDKey     = "aws_access_key_id"
	secretAccessKeyKey = "aws_secret_access_key"
	regionKey          = "region"

	configProfilePrefix = "profile "
)

// Profile is a named credential pair.
type Profile struct {
	Name      string
	AccessKey string
	SecretKey string

	// Region is the region hint from the shared config file, if any.
	Region string
}

// Store manages profiles in the shared credentials file. Lookups
// additionally consult the shared config file, where profiles
// are declared as "[profile <name>]" sections.
type Store struct {
	CredentialsFile string
	ConfigFile      string

	// Resolver resolves endpoints of sessions. The SDK
	// default resolver is used if nil.
	Resolver endpoints.Resolver
}

// New creates new Store over the given files. Empty paths
// are resolved with DefaultCredentialsFile and DefaultConfigFile.
func New(credentialsFile, configFile string) *Store {
	if credentialsFile == "" {
		credentialsFile = DefaultCredentialsFile()
	}
	if configFile == "" {
		configFile = DefaultConfigFile()
	}
	return &Store{
		CredentialsFile: credentialsFile,
		ConfigFile:      configFile,
	}
}

// DefaultCredentialsFile returns the shared credentials file
// location, honoring AWS_SHARED_CREDENTIALS_FILE.
func DefaultCredentialsFile() string {
	if p := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".aws", "credentials")
}

// DefaultConfigFile returns the shared config file
// location, honoring AWS_CONFIG_FILE.
func DefaultConfigFile() string {
	if p := os.Getenv("AWS_CONFIG_FILE"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".aws", "config")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.WithError(err).Warn("cannot determine home directory")
		return "."
	}
	return home
}

// Save registers new profile. Existing profiles are never overwritten.
func (s *Store) Save(name, accessKey, secretKey string) error {
	if name == "" || accessKey == "" || secretKey == "" {
		return errcode.Newf(errcode.InvalidParameters, "profile name, access key and secret key are required")
	}

	found, err := s.find(name)
	if err != nil {
		return err
	}

	if found != nil {
		return errcode.Newf(errcode.ProfileAlreadyExists, "profile %q already exists", name)
	}

	f, err := s.loadCredentials()
	if err != nil {
		return err
	}

	sec, err := f.NewSection(name)
	if err != nil {
		log.WithError(err).Errorf("cannot create profile section %q", name)
		return errcode.Wrap(errcode.UnknownError, err)
	}

	setKeys(sec, accessKey, secretKey)

	return s.saveCredentials(f)
}

// Update replaces the keys of an existing profile of the
// shared credentials file.
func (s *Store) Update(name, accessKey, secretKey string) error {
	if name == "" || accessKey == "" || secretKey == "" {
		return errcode.Newf(errcode.InvalidParameters, "profile name, access key and secret key are required")
	}

	f, err := s.loadCredentials()
	if err != nil {
		return err
	}

	sec, err := f.GetSection(name)
	if err != nil {
		return errcode.Newf(errcode.NoProfileFound, "profile %q does not exist", name)
	}

	setKeys(sec, accessKey, secretKey)

	return s.saveCredentials(f)
}

// Retrieve returns the profile with given name.
func (s *Store) Retrieve(name string) (*Profile, error) {
	if name == "" {
		return nil, errcode.Newf(errcode.InvalidParameters, "profile name is empty")
	}

	p, err := s.find(name)
	if err != nil {
		return nil, err
	}

	if p == nil {
		return nil, errcode.Newf(errcode.NoProfileFound, "profile %q does not exist", name)
	}

	return p, nil
}

// ListProfiles returns the names of all known profiles, sorted.
// Unreadable files contribute no profiles.
func (s *Store) ListProfiles() []string {
	seen := make(map[string]bool)

	if f, err := s.loadCredentials(); err == nil {
		for _, sec := range f.Sections() {
			if sec.Name() != ini.DefaultSection {
				seen[sec.Name()] = true
			}
		}
	}

	if f, err := s.loadConfig(); err == nil {
		for _, sec := range f.Sections() {
			if name, ok := configProfileName(sec.Name()); ok {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Session creates an AWS session authenticated with the named profile.
func (s *Store) Session(name, region string) (*session.Session, error) {
	if _, err := s.Retrieve(name); err != nil {
		return nil, err
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           name,
		SharedConfigState: session.SharedConfigEnable,
		SharedConfigFiles: []string{s.CredentialsFile, s.ConfigFile},
		Config: aws.Config{
			Region:           aws.String(region),
			EndpointResolver: s.Resolver,
		},
	})
	if err != nil {
		log.WithError(err).Errorf("cannot create session for profile %q", name)
		return nil, errcode.Classify(err, errcode.AwsError)
	}

	return sess, nil
}

// find looks up the profile in the credentials file and then in
// the config file. Returns nil if profile does not exist.
func (s *Store) find(name string) (*Profile, error) {
	creds, err := s.loadCredentials()
	if err != nil {
		return nil, err
	}

	config, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	var p *Profile

	if sec, err := creds.GetSection(name); err == nil {
		p = &Profile{
			Name:      name,
			AccessKey: sec.Key(accessKeyIDKey).String(),
			SecretKey: sec.Key(secretAccessKeyKey).String(),
		}
	}

	sectionName := configProfilePrefix + name
	if name == "default" {
		sectionName = name
	}

	if sec, err := config.GetSection(sectionName); err == nil {
		if p == nil {
			p = &Profile{
				Name:      name,
				AccessKey: sec.Key(accessKeyIDKey).String(),
				SecretKey: sec.Key(secretAccessKeyKey).String(),
			}
		}
		p.Region = sec.Key(regionKey).String()
	}

	return p, nil
}

func (s *Store) loadCredentials() (*ini.File, error) {
	return load(s.CredentialsFile)
}

func (s *Store) loadConfig() (*ini.File, error) {
	return load(s.ConfigFile)
}

func load(path string) (*ini.File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		log.WithError(err).Errorf("cannot load %s", path)
		return nil, errcode.Wrap(errcode.UnknownError, err)
	}
	return f, nil
}

func (s *Store) saveCredentials(f *ini.File) error {
	var buf bytes.Buffer

	if _, err := f.WriteTo(&buf); err != nil {
		log.WithError(err).Error("cannot serialize credentials")
		return errcode.Wrap(errcode.UnknownError, err)
	}

	if err := atomicfile.WriteFile(s.CredentialsFile, fixEndOfFile(buf.Bytes()), 0600); err != nil {
		log.WithError(err).Errorf("cannot write %s", s.CredentialsFile)
		return errcode.Wrap(errcode.UnknownError, errors.Cause(err))
	}

	return nil
}

func setKeys(sec *ini.Section, accessKey, secretKey string) {
	sec.Key(accessKeyIDKey).SetValue(accessKey)
	sec.Key(secretAccessKeyKey).SetValue(secretKey)
}

// fixEndOfFile makes sure the file ends with exactly one newline.
func fixEndOfFile(data []byte) []byte {
	return append(bytes.TrimRight(data, "\r\n"), '\n')
}

func configProfileName(section string) (string, bool) {
	if section == "default" {
		return section, true
	}
	if strings.HasPrefix(section, configProfilePrefix) {
		return strings.TrimSpace(strings.TrimPrefix(section, configProfilePrefix)), true
	}
	return "", false
}
