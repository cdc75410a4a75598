// Package settings implements persistent key/value settings
// stored in a YAML document.
package settings

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/spirius/gldeploy/pkg/atomicfile"
	"github.com/spirius/gldeploy/pkg/errcode"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "settings.yaml"

const versionKey = "version"

// Well-known keys.
const (
	CurrentProfileName = "CurrentProfileName"
	CurrentRegion      = "CurrentRegion"
	CurrentBucketName  = "CurrentBucketName"
	ServerBuildPath    = "ServerBuildPath"
	GameLiftLocalPath  = "GameLiftLocalPath"
	GameLiftLocalPort  = "GameLiftLocalPort"
	LocalServerPath    = "LocalServerPath"
	LastDeploymentID   = "LastDeploymentId"
	IsBootstrapped     = "IsBootstrapped"
)

// Store is a key/value store backed by a YAML file.
// Every operation reads the whole document and writes it
// back through a rename. Concurrent writers are not
// serialized, the last writer wins.
type Store struct {
	path string
}

// New creates new Store at path. Empty path means DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the path of the backing document.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value of key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", errcode.Newf(errcode.InvalidParameters, "key is empty")
	}

	doc, err := s.load()
	if err != nil {
		return "", err
	}

	i := indexOf(doc, key)
	if i < 0 {
		return "", errcode.Newf(errcode.NoSettingsKeyFound, "key %q is not set", key)
	}

	return scalarString(doc[i].Value), nil
}

// Put sets the value of key, replacing the previous value.
// The document is created if missing.
func (s *Store) Put(key, value string) error {
	if key == "" || value == "" {
		return errcode.Newf(errcode.InvalidParameters, "key and value must not be empty")
	}

	doc, err := s.load()
	if errcode.Is(err, errcode.NoSettingsFileFound) {
		log.Debugf("creating settings file %s", s.path)
		doc = yaml.MapSlice{{Key: versionKey, Value: 1}}
	} else if err != nil {
		return err
	}

	doc = append(remove(doc, key), yaml.MapItem{Key: key, Value: value})

	return s.save(doc)
}

// Clear removes key from the document. Missing key is not an error.
func (s *Store) Clear(key string) error {
	if key == "" {
		return errcode.Newf(errcode.InvalidParameters, "key is empty")
	}

	doc, err := s.load()
	if err != nil {
		return err
	}

	if indexOf(doc, key) < 0 {
		return nil
	}

	return s.save(remove(doc, key))
}

// Keys returns the keys of the document in their stored
// order, excluding the version marker.
func (s *Store) Keys() ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc))

	for _, item := range doc {
		if k := scalarString(item.Key); k != versionKey {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

func (s *Store) load() (yaml.MapSlice, error) {
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, errcode.Newf(errcode.NoSettingsFileFound, "settings file %s does not exist", s.path)
	} else if err != nil {
		log.WithError(err).Errorf("cannot read settings file %s", s.path)
		return nil, errcode.Wrap(errcode.UnknownError, err)
	}

	var root interface{}

	if err := yaml.Unmarshal(data, &root); err != nil {
		log.WithError(err).Errorf("cannot parse settings file %s", s.path)
		return nil, errcode.Wrap(errcode.InvalidSettingsFile, err)
	}

	switch root.(type) {
	case nil:
		return yaml.MapSlice{}, nil
	case map[interface{}]interface{}:
	default:
		return nil, errcode.Newf(errcode.InvalidSettingsFile, "root of %s is not a mapping", s.path)
	}

	var doc yaml.MapSlice

	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.WithError(err).Errorf("cannot parse settings file %s", s.path)
		return nil, errcode.Wrap(errcode.InvalidSettingsFile, err)
	}

	return doc, nil
}

func (s *Store) save(doc yaml.MapSlice) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		log.WithError(err).Error("cannot serialize settings")
		return errcode.Wrap(errcode.UnknownError, err)
	}

	if err := atomicfile.WriteFile(s.path, data, 0644); err != nil {
		log.WithError(err).Errorf("cannot write settings file %s", s.path)
		return errcode.Wrap(errcode.UnknownError, errors.Cause(err))
	}

	return nil
}

func indexOf(doc yaml.MapSlice, key string) int {
	for i, item := range doc {
		if scalarString(item.Key) == key {
			return i
		}
	}
	return -1
}

// remove returns a copy of doc without key.
func remove(doc yaml.MapSlice, key string) yaml.MapSlice {
	res := make(yaml.MapSlice, 0, len(doc)+1)
	for _, item := range doc {
		if scalarString(item.Key) != key {
			res = append(res, item)
		}
	}
	return res
}

func scalarString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
