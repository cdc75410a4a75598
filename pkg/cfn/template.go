package cfn

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/juju/errors"
)

// MaxTemplateBodySize is the largest template which can be
// sent inline. Larger templates must be referenced by URL.
const MaxTemplateBodySize = 51200

// TemplateData contains the result of template validation.
type TemplateData struct {
	Description  string
	Parameters   []string
	Capabilities []string
}

// ValidateTemplate invokes AWS CloudFormation ValidateTemplate API
// on template body. If templateURL is not empty, it is used instead.
func ValidateTemplate(conn cloudformationiface.CloudFormationAPI, body, templateURL string) (*TemplateData, error) {
	in := &cloudformation.ValidateTemplateInput{}
	if templateURL != "" {
		in.TemplateURL = aws.String(templateURL)
	} else {
		in.TemplateBody = aws.String(body)
	}

	out, err := conn.ValidateTemplate(in)
	if err != nil {
		return nil, errors.Annotatef(err, "ValidateTemplate failed")
	}

	data := &TemplateData{
		Description:  aws.StringValue(out.Description),
		Capabilities: aws.StringValueSlice(out.Capabilities),
	}

	for _, p := range out.Parameters {
		data.Parameters = append(data.Parameters, aws.StringValue(p.ParameterKey))
	}

	return data, nil
}
