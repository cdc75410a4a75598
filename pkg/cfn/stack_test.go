package cfn

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"

	mock "github.com/spirius/gldeploy/pkg/cfn/mock"
	"github.com/spirius/gldeploy/pkg/closer"
)

func newTestStack(t *testing.T, cfnconn *mock.MockCloudFormationAPI, name string) *Stack {
	stack, err := NewStack(cfnconn, name)
	require.Nil(t, err)
	require.NotNil(t, stack)
	stack.Poller = testPoller
	return stack
}

func TestStack_read_basic(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := &Stack{Name: name, cfnconn: cfnconn}

	cfnstack, err := stack.read()
	require.Nil(err)
	require.NotNil(cfnstack)

	require.Equal(name, aws.StringValue(cfnstack.StackName))
	require.Equal(cloudformation.StackStatusCreateComplete, aws.StringValue(cfnstack.StackStatus))
}

func TestStack_read_notFound(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	stack := &Stack{Name: name, cfnconn: cfnconn}

	cfnstack, err := stack.read()
	require.Nil(err)
	require.Nil(cfnstack)

	cfnconn.MockDescribeStacks = func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return &cloudformation.DescribeStacksOutput{}, nil
	}

	cfnstack, err = stack.read()
	require.Nil(err)
	require.Nil(cfnstack)
}

func TestStack_read_error(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	experr := fmt.Errorf("error")
	cfnconn.MockDescribeStacks = func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return nil, experr
	}

	stack := &Stack{Name: name, cfnconn: cfnconn}

	cfnstack, err := stack.read()
	require.NotNil(err)
	require.Equal(experr, errors.Cause(err))
	require.Nil(cfnstack)
}

func TestStack_NewStack_basic(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
		Outputs: []*cloudformation.Output{{
			OutputKey:   aws.String("UserPoolId"),
			OutputValue: aws.String("pool-1"),
		}},
	}})

	stack := newTestStack(t, cfnconn, name)

	data := stack.Data()
	require.Equal(name, stack.Name)
	require.Equal(name, data.Name)
	require.Equal(cloudformation.StackStatusCreateComplete, data.Status)
	require.Equal("pool-1", data.Outputs["UserPoolId"])
	require.True(data.IsSucceeded())
	require.True(data.IsTerminal())
}

func TestStack_NewStack_error(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	experr := fmt.Errorf("error")
	cfnconn.MockDescribeStacks = func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return nil, experr
	}

	stack, err := NewStack(cfnconn, name)
	require.NotNil(err)
	require.Nil(stack)
	require.Equal(experr, errors.Cause(err))
}

func TestStack_Poll_untilTerminal(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusUpdateInProgress),
	}})

	stack := newTestStack(t, cfnconn, name)

	polls := 0
	err := stack.Poll(WaitConfig{}, func(d *StackData) (bool, error) {
		polls++
		if polls == 3 {
			cfnconn.SetStackStatus(name, cloudformation.StackStatusUpdateComplete)
		}
		return !d.IsTerminal(), nil
	})

	require.Nil(err)
	require.Equal(4, polls)
	require.Equal(cloudformation.StackStatusUpdateComplete, stack.Data().Status)
}

func TestStack_Poll_limit(t *testing.T) {
	require := require.New(t)

	name := "GameLiftPluginForUnity-mygame"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusUpdateInProgress),
	}})

	stack := newTestStack(t, cfnconn, name)
	stack.Poller.MaxAttempts = 5

	polls := 0
	err := stack.Poll(WaitConfig{}, func(d *StackData) (bool, error) {
		polls++
		return !d.IsTerminal(), nil
	})

	require.Equal(ErrPollLimit, errors.Cause(err))
	require.Equal(5, polls)
	require.Equal(6, cfnconn.Calls("DescribeStacks"))
}

func TestStack_Poll_closer(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)

	experr := fmt.Errorf("error")
	cl := closer.New()
	polls := 0

	err := stack.Poll(WaitConfig{Closer: cl}, func(d *StackData) (bool, error) {
		polls++
		if polls == 2 {
			cl.Close(experr)
		}
		return true, nil
	})

	require.Nil(err)
	require.Equal(2, polls)
	require.Equal(experr, cl.Wait())
}

func TestStack_Poll_error1(t *testing.T) {
	require := require.New(t)

	experr := fmt.Errorf("error")
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)

	cfnconn.MockDescribeStacks = func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return nil, experr
	}

	err := stack.Poll(WaitConfig{}, func(d *StackData) (bool, error) {
		return true, nil
	})

	require.Equal(experr, errors.Cause(err))
}

func TestStack_Poll_error2(t *testing.T) {
	require := require.New(t)

	experr := fmt.Errorf("error")
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)

	err := stack.Poll(WaitConfig{}, func(d *StackData) (bool, error) {
		return false, experr
	})

	require.Equal(experr, errors.Cause(err))
}

func TestStack_Wait_closeOnEnd(t *testing.T) {
	require := require.New(t)

	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)

	cfnconn.SetStackStatus(name, cloudformation.StackStatusUpdateComplete)

	cl := closer.New()
	stack.Wait(WaitConfig{
		Closer:     cl,
		CloseOnEnd: true,
	}, func(d *StackData) (bool, error) {
		return false, nil
	})

	require.Nil(cl.Wait())
	require.Equal(cloudformation.StackStatusUpdateComplete, stack.Data().Status)
}

func TestStack_Wait_closeOnError(t *testing.T) {
	require := require.New(t)

	experr := fmt.Errorf("error")
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()
	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusCreateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)

	cl := closer.New()
	stack.Wait(WaitConfig{
		Closer:       cl,
		CloseOnError: true,
	}, func(d *StackData) (bool, error) {
		return false, experr
	})

	require.Equal(experr, errors.Cause(cl.Wait()))
}

func TestStack_Data(t *testing.T) {
	require := require.New(t)
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	data := (&Stack{Name: name, cfnconn: cfnconn}).Data()
	require.Equal(name, data.Name)
	require.Equal(StackStatusNotFound, data.Status)
	require.False(data.Exists())
	require.True(data.IsDeleted())
}

func TestStack_Destroy(t *testing.T) {
	require := require.New(t)
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	cfnconn.AddStacks([]*cloudformation.Stack{{
		StackName:   aws.String(name),
		StackStatus: aws.String(cloudformation.StackStatusUpdateComplete),
	}})

	stack := newTestStack(t, cfnconn, name)
	require.Equal(cloudformation.StackStatusUpdateComplete, stack.Data().Status)

	require.Nil(stack.Destroy())

	err := stack.Poll(WaitConfig{}, func(d *StackData) (bool, error) {
		return !d.IsDeleted(), nil
	})
	require.Nil(err)
	require.Equal(StackStatusNotFound, stack.Data().Status)

	stack = newTestStack(t, cfnconn, name)
	require.Equal(StackStatusNotFound, stack.Data().Status)
}

func TestStack_CancelUpdate(t *testing.T) {
	require := require.New(t)
	name := "mystack"
	cfnconn := mock.NewMockCloudFormationAPI()

	var token string
	cfnconn.MockCancelUpdateStack = func(in *cloudformation.CancelUpdateStackInput) (*cloudformation.CancelUpdateStackOutput, error) {
		token = aws.StringValue(in.ClientRequestToken)
		return &cloudformation.CancelUpdateStackOutput{}, nil
	}

	stack := &Stack{Name: name, cfnconn: cfnconn}
	require.Nil(stack.CancelUpdate("token-1"))
	require.Equal("token-1", token)
	require.Equal(1, cfnconn.Calls("CancelUpdateStack"))
}

func TestStackData_status(t *testing.T) {
	require := require.New(t)

	for _, tc := range []struct {
		status string

		inProgress, terminal, succeeded, rb bool
	}{
		{cloudformation.StackStatusCreateInProgress, true, false, false, false},
		{cloudformation.StackStatusCreateComplete, false, true, true, false},
		{cloudformation.StackStatusUpdateCompleteCleanupInProgress, true, false, false, false},
		{cloudformation.StackStatusRollbackComplete, false, true, false, true},
		{cloudformation.StackStatusUpdateRollbackComplete, false, true, false, true},
		{cloudformation.StackStatusRollbackFailed, false, true, false, true},
		{cloudformation.StackStatusReviewInProgress, true, false, false, false},
		{cloudformation.StackStatusDeleteComplete, false, true, false, false},
	} {
		sd := StackData{Status: tc.status}
		require.Equal(tc.inProgress, sd.IsInProgress(), tc.status)
		require.Equal(tc.terminal, sd.IsTerminal(), tc.status)
		require.Equal(tc.succeeded, sd.IsSucceeded(), tc.status)
		require.Equal(tc.rb, sd.IsRollback(), tc.status)
	}
}
