package deploy

import (
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/juju/errors"

	"github.com/spirius/gldeploy/pkg/errcode"
)

// Parameters injected into every deployment.
const (
	GameNameParameter          = "GameNameParameter"
	BuildS3BucketParameter     = "BuildS3BucketParameter"
	BuildS3KeyParameter        = "BuildS3KeyParameter"
	LambdaZipS3BucketParameter = "LambdaZipS3BucketParameter"
	LambdaZipS3KeyParameter    = "LambdaZipS3KeyParameter"
)

// Parameter is an entry of the parameters file.
type Parameter struct {
	ParameterKey   string `json:"ParameterKey"`
	ParameterValue string `json:"ParameterValue"`
}

// LoadParameters reads the JSON parameters file at path.
func LoadParameters(path string) (map[string]string, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcode.Newf(errcode.ParametersFileNotFound, "parameters file '%s' not found", path)
		}
		return nil, errcode.Wrap(errcode.UnknownError, errors.Annotatef(err, "cannot read parameters file"))
	}

	var list []Parameter
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errcode.Newf(errcode.InvalidParametersFile, "cannot parse '%s': %s", path, err)
	}

	params := make(map[string]string, len(list))
	for _, p := range list {
		if p.ParameterKey == "" {
			return nil, errcode.Newf(errcode.InvalidParametersFile, "parameter without key in '%s'", path)
		}
		params[p.ParameterKey] = p.ParameterValue
	}
	return params, nil
}

// artifacts are the S3 locations of files uploaded for a deployment.
type artifacts struct {
	buildBucket, buildKey   string
	lambdaBucket, lambdaKey string
}

// stackParameters merges the file parameters with the injected
// values. Request parameters take precedence over everything.
func stackParameters(req Request, fileParams map[string]string, a artifacts) map[string]string {
	params := make(map[string]string, len(fileParams)+len(req.Parameters)+5)
	for k, v := range fileParams {
		params[k] = v
	}
	if req.GameName != "" {
		params[GameNameParameter] = req.GameName
	}
	if a.buildBucket != "" && a.buildKey != "" {
		params[BuildS3BucketParameter] = a.buildBucket
		params[BuildS3KeyParameter] = a.buildKey
	}
	if a.lambdaBucket != "" && a.lambdaKey != "" {
		params[LambdaZipS3BucketParameter] = a.lambdaBucket
		params[LambdaZipS3KeyParameter] = a.lambdaKey
	}
	for k, v := range req.Parameters {
		params[k] = v
	}
	return params
}
