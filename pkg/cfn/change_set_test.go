package cfn

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"

	mock "github.com/spirius/gldeploy/pkg/cfn/mock"
)

func TestChangeSet_NewChangeSet_basic(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	csName := "my-cs"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddChangeSets([]*cloudformation.DescribeChangeSetOutput{{
		StackName:     aws.String(name),
		ChangeSetName: aws.String(csName),
		Status:        aws.String(cloudformation.ChangeSetStatusCreateComplete),
	}})

	csData := &ChangeSetData{
		Name: csName,
		StackData: &StackData{
			Name: name,
		},
	}

	cs, err := NewChangeSet(cfnconn, csData)
	require.Nil(err)
	require.NotNil(cs)

	data := cs.Data()
	require.Equal(csName, data.Name)
	require.Equal(name, data.StackData.Name)
	require.Equal(cloudformation.ChangeSetStatusCreateComplete, data.Status)
}

func TestChangeSet_NewChangeSet_error1(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	csData := &ChangeSetData{
		StackData: &StackData{
			Name: name,
		},
	}

	cs, err := NewChangeSet(cfnconn, csData)
	require.NotNil(err)
	require.Nil(cs)
}

func TestChangeSet_NewChangeSet_error2(t *testing.T) {
	require := require.New(t)

	experr := fmt.Errorf("error")
	name := "mystack"
	csName := "my-cs"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.MockDescribeChangeSet = func(in *cloudformation.DescribeChangeSetInput) (*cloudformation.DescribeChangeSetOutput, error) {
		return nil, experr
	}

	csData := &ChangeSetData{
		Name: csName,
		StackData: &StackData{
			Name: name,
		},
	}

	cs, err := NewChangeSet(cfnconn, csData)
	require.NotNil(err)
	require.Nil(cs)
	require.Equal(experr, errors.Cause(err))
}

func TestChangeSet_NewChangeSet_notFound(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddChangeSets([]*cloudformation.DescribeChangeSetOutput{{
		StackName:     aws.String(name),
		ChangeSetName: aws.String("other"),
	}})

	cs, err := NewChangeSet(cfnconn, &ChangeSetData{
		Name:      "my-cs",
		StackData: &StackData{Name: name},
	})
	require.Nil(err)
	require.False(cs.Data().Exists())
}

func newChanges(actions ...string) []*cloudformation.Change {
	var changes []*cloudformation.Change
	for i, action := range actions {
		changes = append(changes, &cloudformation.Change{
			Type: aws.String(cloudformation.ChangeTypeResource),
			ResourceChange: &cloudformation.ResourceChange{
				Action:            aws.String(action),
				LogicalResourceId: aws.String(fmt.Sprintf("Resource%d", i)),
				ResourceType:      aws.String("AWS::GameLift::Fleet"),
			},
		})
	}
	return changes
}

func TestChangeSet_CreateChangeSet(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.PageSize = 2
	cfnconn.ChangeSetTemplate.Changes = newChanges(
		cloudformation.ChangeActionAdd,
		cloudformation.ChangeActionAdd,
		cloudformation.ChangeActionModify,
		cloudformation.ChangeActionRemove,
		cloudformation.ChangeActionAdd,
	)

	var input *cloudformation.CreateChangeSetInput
	create := cfnconn.CreateChangeSet
	cfnconn.MockCreateChangeSet = func(in *cloudformation.CreateChangeSetInput) (*cloudformation.CreateChangeSetOutput, error) {
		input = in
		cfnconn.MockCreateChangeSet = nil
		return create(in)
	}

	cs, err := CreateChangeSet(cfnconn, &ChangeSetData{
		Name:  "my-cs",
		IsNew: true,
		StackData: &StackData{
			Name:         name,
			Capabilities: []string{cloudformation.CapabilityCapabilityNamedIam},
			TemplateURL:  "https://bucket.s3.amazonaws.com/template.yml",
			Parameters:   map[string]string{"b": "2", "a": "1"},
		},
	})
	require.Nil(err)
	require.NotEmpty(cs.ID())

	require.Equal(cloudformation.ChangeSetTypeCreate, aws.StringValue(input.ChangeSetType))
	require.Equal("https://bucket.s3.amazonaws.com/template.yml", aws.StringValue(input.TemplateURL))
	require.Equal("a", aws.StringValue(input.Parameters[0].ParameterKey))
	require.Equal("b", aws.StringValue(input.Parameters[1].ParameterKey))
	require.Equal(cloudformation.StackStatusReviewInProgress, cfnconn.StackStatus(name))

	cs.Poller = testPoller
	require.Nil(cs.Refresh())

	data := cs.Data()
	require.Len(data.Changes, 5)
	require.True(data.HasRemovals())
	require.True(data.IsExecutable())
	require.Equal("Resource3", aws.StringValue(data.Changes[3].LogicalResourceId))

	require.Nil(cs.Execute())
	require.Equal(cloudformation.StackStatusCreateComplete, cfnconn.StackStatus(name))

	err = cs.Execute()
	require.NotNil(err)
}

func TestChangeSet_CreateChangeSet_error(t *testing.T) {
	require := require.New(t)

	cfnconn := mock.NewMockCloudFormationAPI()

	_, err := CreateChangeSet(cfnconn, &ChangeSetData{
		Name:      "my-cs",
		StackData: &StackData{Name: "missing"},
	})
	require.NotNil(err)
	require.Equal(1, cfnconn.Calls("CreateChangeSet"))
	require.Equal("", cfnconn.StackStatus("missing"))
}

func TestChangeSet_Poll(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	csName := "my-cs"
	cfnconn := mock.NewMockCloudFormationAPI()

	out := &cloudformation.DescribeChangeSetOutput{
		StackName:       aws.String(name),
		ChangeSetName:   aws.String(csName),
		Status:          aws.String(cloudformation.ChangeSetStatusCreatePending),
		ExecutionStatus: aws.String(cloudformation.ExecutionStatusUnavailable),
	}
	cfnconn.AddChangeSets([]*cloudformation.DescribeChangeSetOutput{out})

	cs, err := NewChangeSet(cfnconn, &ChangeSetData{
		Name:      csName,
		StackData: &StackData{Name: name},
	})
	require.Nil(err)
	cs.Poller = testPoller

	polls := 0
	err = cs.Poll(WaitConfig{}, func(d *ChangeSetData) (bool, error) {
		polls++
		if polls == 2 {
			cfnconn.AddChangeSets([]*cloudformation.DescribeChangeSetOutput{{
				StackName:       aws.String(name),
				ChangeSetName:   aws.String(csName),
				Status:          aws.String(cloudformation.ChangeSetStatusCreateComplete),
				ExecutionStatus: aws.String(cloudformation.ExecutionStatusAvailable),
			}})
		}
		return !d.IsReady(), nil
	})
	require.Nil(err)
	require.Equal(3, polls)
	require.True(cs.Data().IsExecutable())
}

func TestChangeSet_Delete(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	cs, err := CreateChangeSet(cfnconn, &ChangeSetData{
		Name:      "my-cs",
		IsNew:     true,
		StackData: &StackData{Name: name, TemplateBody: "{}"},
	})
	require.Nil(err)
	require.True(cfnconn.ChangeSetExists(name, "my-cs"))

	require.Nil(cs.Delete())
	require.False(cfnconn.ChangeSetExists(name, "my-cs"))

	err = cs.Delete()
	require.NotNil(err)
}

func TestChangeSetData_HasNoChanges(t *testing.T) {
	require := require.New(t)

	c := ChangeSetData{
		Status:       cloudformation.ChangeSetStatusFailed,
		StatusReason: "The submitted information didn't contain changes. Submit different information to create a change set.",
	}
	require.True(c.HasNoChanges())
	require.False(c.IsFailed())

	c.StatusReason = "Template error: unresolved resource dependencies"
	require.False(c.HasNoChanges())
	require.True(c.IsFailed())

	c = ChangeSetData{Status: cloudformation.ChangeSetStatusCreateComplete}
	require.False(c.HasNoChanges())
	require.False(c.IsFailed())
}
