package cfn

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/arn"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
)

const arnPrefix = "arn:aws:cloudformation:us-east-1:123456789012:"

// MockCloudFormationAPI is the mock for AWS CloudFormation API.
type MockCloudFormationAPI struct {
	cloudformationiface.CloudFormationAPI

	stackEventsLock sync.Mutex
	stackEvents     []*cloudformation.StackEvent

	stacksLock sync.Mutex
	stacks     map[string]*cloudformation.Stack

	changeSetsLock sync.Mutex
	changeSets     map[string]map[string]*cloudformation.DescribeChangeSetOutput

	callsLock sync.Mutex
	calls     map[string]int
	seq       int

	// PageSize is the page size for returned data.
	PageSize int

	// MockDescribeStackEvents can be used to mock the call to DescribeStackEvents API.
	MockDescribeStackEvents func(*cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error)

	// MockDescribeStacks can be used to mock the call to DescribeStacks API.
	MockDescribeStacks func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)

	// MockDescribeChangeSet can be used to mock the call to DescribeChangeSet API.
	MockDescribeChangeSet func(*cloudformation.DescribeChangeSetInput) (*cloudformation.DescribeChangeSetOutput, error)

	// MockDeleteStack can be used to mock the call to DeleteStack API.
	MockDeleteStack func(*cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error)

	// MockCreateChangeSet can be used to mock the call to CreateChangeSet API.
	MockCreateChangeSet func(*cloudformation.CreateChangeSetInput) (*cloudformation.CreateChangeSetOutput, error)

	// MockExecuteChangeSet can be used to mock the call to ExecuteChangeSet API.
	MockExecuteChangeSet func(*cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error)

	// MockDeleteChangeSet can be used to mock the call to DeleteChangeSet API.
	MockDeleteChangeSet func(*cloudformation.DeleteChangeSetInput) (*cloudformation.DeleteChangeSetOutput, error)

	// MockCancelUpdateStack can be used to mock the call to CancelUpdateStack API.
	MockCancelUpdateStack func(*cloudformation.CancelUpdateStackInput) (*cloudformation.CancelUpdateStackOutput, error)

	// MockValidateTemplate can be used to mock the call to ValidateTemplate API.
	MockValidateTemplate func(*cloudformation.ValidateTemplateInput) (*cloudformation.ValidateTemplateOutput, error)

	// ChangeSetTemplate is used as the initial state of
	// change sets created by the default CreateChangeSet.
	// Changes are copied from it.
	ChangeSetTemplate cloudformation.DescribeChangeSetOutput
}

// NewMockCloudFormationAPI creates new mock of CloudFormation API.
func NewMockCloudFormationAPI() *MockCloudFormationAPI {
	return &MockCloudFormationAPI{
		PageSize:   10,
		stacks:     make(map[string]*cloudformation.Stack),
		changeSets: make(map[string]map[string]*cloudformation.DescribeChangeSetOutput),
		calls:      make(map[string]int),
		ChangeSetTemplate: cloudformation.DescribeChangeSetOutput{
			Status:          aws.String(cloudformation.ChangeSetStatusCreateComplete),
			ExecutionStatus: aws.String(cloudformation.ExecutionStatusAvailable),
		},
	}
}

func (c *MockCloudFormationAPI) called(name string) {
	c.callsLock.Lock()
	defer c.callsLock.Unlock()
	c.calls[name]++
}

// Calls returns the number of invocations of API method.
func (c *MockCloudFormationAPI) Calls(name string) int {
	c.callsLock.Lock()
	defer c.callsLock.Unlock()
	return c.calls[name]
}

func (c *MockCloudFormationAPI) nextID() string {
	c.callsLock.Lock()
	defer c.callsLock.Unlock()
	c.seq++
	return fmt.Sprintf("%08d-0000-0000-0000-000000000000", c.seq)
}

// DescribeStackEvents invokes the mock method if it is set,
// otherwise it will return stack events from default mock implementation.
func (c *MockCloudFormationAPI) DescribeStackEvents(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
	c.called("DescribeStackEvents")
	if c.MockDescribeStackEvents != nil {
		return c.MockDescribeStackEvents(in)
	}
	c.stackEventsLock.Lock()
	defer c.stackEventsLock.Unlock()
	var stackEvents []*cloudformation.StackEvent
	if in.StackName != nil {
		for _, e := range c.stackEvents {
			if strPtrCmp(e.StackName, in.StackName) || strPtrCmp(e.StackId, in.StackName) {
				stackEvents = append(stackEvents, e)
			}
		}
	} else {
		stackEvents = c.stackEvents
	}

	out := &cloudformation.DescribeStackEventsOutput{}

	start := 0
	if in.NextToken != nil {
		start, _ = strconv.Atoi(aws.StringValue(in.NextToken))
	}
	if start+c.PageSize < len(stackEvents) {
		out.NextToken = aws.String(fmt.Sprintf("%d", start+c.PageSize))
		out.StackEvents = stackEvents[start : start+c.PageSize]
	} else if start < len(stackEvents) {
		out.StackEvents = stackEvents[start:]
	}
	return out, nil
}

// AddStackEvents adds new stack events to mock implementation.
// Events are returned newest first, like the real API does.
func (c *MockCloudFormationAPI) AddStackEvents(stackEvents []*cloudformation.StackEvent) {
	c.stackEventsLock.Lock()
	defer c.stackEventsLock.Unlock()
	c.stackEvents = append(stackEvents, c.stackEvents...)
}

func strPtrCmp(a, b *string) bool {
	if b == nil {
		return true
	} else if a == nil {
		return false
	}
	return *a == *b
}

func stackEventCmp(a, b *cloudformation.StackEvent) bool {
	return strPtrCmp(a.EventId, b.EventId) &&
		strPtrCmp(a.LogicalResourceId, b.LogicalResourceId) &&
		strPtrCmp(a.ResourceType, b.ResourceType) &&
		strPtrCmp(a.StackName, b.StackName)
}

// RemoveStackEvents removes the stack events from mock implementation.
func (c *MockCloudFormationAPI) RemoveStackEvents(stackEvents []*cloudformation.StackEvent) {
	c.stackEventsLock.Lock()
	defer c.stackEventsLock.Unlock()
	for _, e1 := range stackEvents {
		res := c.stackEvents[:0]
		for _, e2 := range c.stackEvents {
			if !stackEventCmp(e2, e1) {
				res = append(res, e2)
			}
		}
		c.stackEvents = res
	}
}

// AddStacks adds new stack to mock implementation.
func (c *MockCloudFormationAPI) AddStacks(stacks []*cloudformation.Stack) {
	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	for _, s := range stacks {
		c.stacks[aws.StringValue(s.StackName)] = s
	}
}

// SetStackStatus changes the status of existing stack.
func (c *MockCloudFormationAPI) SetStackStatus(name, status string) {
	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	if s := c.getStack(name); s != nil {
		s.StackStatus = aws.String(status)
	}
}

// StackStatus returns the status of stack, or empty
// string if stack does not exist.
func (c *MockCloudFormationAPI) StackStatus(name string) string {
	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	if s := c.getStack(name); s != nil {
		return aws.StringValue(s.StackStatus)
	}
	return ""
}

// DescribeStacks invokes the mocked method if is is set,
// otherwise it will return stack from default implementation.
func (c *MockCloudFormationAPI) DescribeStacks(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
	c.called("DescribeStacks")
	if c.MockDescribeStacks != nil {
		return c.MockDescribeStacks(in)
	}
	if in.StackName != nil {
		c.stacksLock.Lock()
		defer c.stacksLock.Unlock()
		stackName := normalizeStackName(aws.StringValue(in.StackName))
		stack := c.stacks[stackName]
		if stack == nil {
			return nil, awserr.New("ValidationError", fmt.Sprintf("Stack with id %s does not exist", stackName), nil)
		}
		out := *stack
		return &cloudformation.DescribeStacksOutput{
			Stacks: []*cloudformation.Stack{&out},
		}, nil
	}
	return nil, fmt.Errorf("Mock is not implemented")
}

// resourceName returns the name part of stack or change set ARN.
func resourceName(name, resourceType string) string {
	a, err := arn.Parse(name)
	if err == nil {
		name = strings.Split(strings.TrimPrefix(a.Resource, resourceType+"/"), "/")[0]
	}
	return name
}

func normalizeStackName(name string) string {
	return resourceName(name, "stack")
}

func normalizeChangeSetName(name string) string {
	return resourceName(name, "changeSet")
}

func (c *MockCloudFormationAPI) getStack(name string) *cloudformation.Stack {
	return c.stacks[normalizeStackName(name)]
}

// DeleteStack invokes mocked method if it is not nil,
// otherwise the mocked implementation is invoked.
func (c *MockCloudFormationAPI) DeleteStack(in *cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error) {
	c.called("DeleteStack")
	if c.MockDeleteStack != nil {
		return c.MockDeleteStack(in)
	}
	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	stack := c.getStack(aws.StringValue(in.StackName))
	if stack == nil {
		return &cloudformation.DeleteStackOutput{}, nil
	}
	delete(c.stacks, aws.StringValue(stack.StackName))
	return &cloudformation.DeleteStackOutput{}, nil
}

// CancelUpdateStack invokes mocked method if it is not nil,
// otherwise stack in UPDATE_IN_PROGRESS state is rolled back.
func (c *MockCloudFormationAPI) CancelUpdateStack(in *cloudformation.CancelUpdateStackInput) (*cloudformation.CancelUpdateStackOutput, error) {
	c.called("CancelUpdateStack")
	if c.MockCancelUpdateStack != nil {
		return c.MockCancelUpdateStack(in)
	}
	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	stack := c.getStack(aws.StringValue(in.StackName))
	if stack == nil {
		return nil, awserr.New("ValidationError", fmt.Sprintf("Stack [%s] does not exist", aws.StringValue(in.StackName)), nil)
	}
	if aws.StringValue(stack.StackStatus) != cloudformation.StackStatusUpdateInProgress {
		return nil, awserr.New("ValidationError", fmt.Sprintf("CancelUpdateStack cannot be called from current stack status: %s", aws.StringValue(stack.StackStatus)), nil)
	}
	stack.StackStatus = aws.String(cloudformation.StackStatusUpdateRollbackComplete)
	return &cloudformation.CancelUpdateStackOutput{}, nil
}

// ValidateTemplate invokes mocked method if it is not nil,
// otherwise template is valid if it is not empty.
func (c *MockCloudFormationAPI) ValidateTemplate(in *cloudformation.ValidateTemplateInput) (*cloudformation.ValidateTemplateOutput, error) {
	c.called("ValidateTemplate")
	if c.MockValidateTemplate != nil {
		return c.MockValidateTemplate(in)
	}
	if aws.StringValue(in.TemplateBody) == "" && aws.StringValue(in.TemplateURL) == "" {
		return nil, awserr.New("ValidationError", "Template body or url is required", nil)
	}
	return &cloudformation.ValidateTemplateOutput{}, nil
}

// AddChangeSets adds new change sets to default mock implementation.
func (c *MockCloudFormationAPI) AddChangeSets(changeSets []*cloudformation.DescribeChangeSetOutput) {
	c.changeSetsLock.Lock()
	defer c.changeSetsLock.Unlock()
	for _, cs := range changeSets {
		stackName := aws.StringValue(cs.StackName)
		csName := aws.StringValue(cs.ChangeSetName)
		if _, ok := c.changeSets[stackName]; !ok {
			c.changeSets[stackName] = make(map[string]*cloudformation.DescribeChangeSetOutput)
		}
		c.changeSets[stackName][csName] = cs
	}
}

// ChangeSetExists indicates if change set with name
// exists in default mock implementation.
func (c *MockCloudFormationAPI) ChangeSetExists(stackName, name string) bool {
	c.changeSetsLock.Lock()
	defer c.changeSetsLock.Unlock()
	_, ok := c.changeSets[stackName][name]
	return ok
}

// findChangeSet looks up change set by ARN or by name and stack name.
// Must be called with changeSetsLock held.
func (c *MockCloudFormationAPI) findChangeSet(stackName, csName *string) (*cloudformation.DescribeChangeSetOutput, error) {
	if _, err := arn.Parse(aws.StringValue(csName)); err == nil {
		for _, css := range c.changeSets {
			for _, cs := range css {
				if aws.StringValue(cs.ChangeSetId) == aws.StringValue(csName) {
					return cs, nil
				}
			}
		}
		return nil, awserr.New(cloudformation.ErrCodeChangeSetNotFoundException, fmt.Sprintf("ChangeSet [%s] does not exist", aws.StringValue(csName)), nil)
	}

	name := normalizeStackName(aws.StringValue(stackName))
	css, ok := c.changeSets[name]
	if !ok {
		return nil, awserr.New("ValidationError", fmt.Sprintf("Stack [%s] does not exist", name), nil)
	}
	cs, ok := css[normalizeChangeSetName(aws.StringValue(csName))]
	if !ok {
		return nil, awserr.New(cloudformation.ErrCodeChangeSetNotFoundException, fmt.Sprintf("ChangeSet [%s] does not exist", aws.StringValue(csName)), nil)
	}
	return cs, nil
}

// DescribeChangeSet invokes mocked method if it is not nil,
// otherwise the mocked implementation is invoked.
func (c *MockCloudFormationAPI) DescribeChangeSet(in *cloudformation.DescribeChangeSetInput) (*cloudformation.DescribeChangeSetOutput, error) {
	c.called("DescribeChangeSet")
	if c.MockDescribeChangeSet != nil {
		return c.MockDescribeChangeSet(in)
	}

	c.changeSetsLock.Lock()
	defer c.changeSetsLock.Unlock()

	cs, err := c.findChangeSet(in.StackName, in.ChangeSetName)
	if err != nil {
		return nil, err
	}

	out := *cs
	out.NextToken = nil
	start := 0
	if in.NextToken != nil {
		start, _ = strconv.Atoi(aws.StringValue(in.NextToken))
	}
	if start+c.PageSize < len(out.Changes) {
		out.NextToken = aws.String(fmt.Sprintf("%d", start+c.PageSize))
		out.Changes = cs.Changes[start : start+c.PageSize]
	} else if start < len(out.Changes) {
		out.Changes = cs.Changes[start:]
	}
	return &out, nil
}

// CreateChangeSet invokes mocked method if it is not nil,
// otherwise change set is created from ChangeSetTemplate. New
// stacks are created in REVIEW_IN_PROGRESS state.
func (c *MockCloudFormationAPI) CreateChangeSet(in *cloudformation.CreateChangeSetInput) (*cloudformation.CreateChangeSetOutput, error) {
	c.called("CreateChangeSet")
	if c.MockCreateChangeSet != nil {
		return c.MockCreateChangeSet(in)
	}

	stackName := normalizeStackName(aws.StringValue(in.StackName))
	csName := aws.StringValue(in.ChangeSetName)

	c.stacksLock.Lock()
	stack := c.stacks[stackName]
	if stack == nil {
		if aws.StringValue(in.ChangeSetType) != cloudformation.ChangeSetTypeCreate {
			c.stacksLock.Unlock()
			return nil, awserr.New("ValidationError", fmt.Sprintf("Stack [%s] does not exist", stackName), nil)
		}
		stack = &cloudformation.Stack{
			StackName:    aws.String(stackName),
			StackId:      aws.String(arnPrefix + "stack/" + stackName + "/" + c.nextID()),
			StackStatus:  aws.String(cloudformation.StackStatusReviewInProgress),
			CreationTime: aws.Time(time.Now()),
		}
		c.stacks[stackName] = stack
	}
	stackID := aws.StringValue(stack.StackId)
	c.stacksLock.Unlock()

	c.changeSetsLock.Lock()
	defer c.changeSetsLock.Unlock()

	if _, ok := c.changeSets[stackName][csName]; ok {
		return nil, awserr.New(cloudformation.ErrCodeAlreadyExistsException, fmt.Sprintf("ChangeSet %s already exists", csName), nil)
	}

	cs := c.ChangeSetTemplate
	cs.ChangeSetName = aws.String(csName)
	cs.ChangeSetId = aws.String(arnPrefix + "changeSet/" + csName + "/" + c.nextID())
	cs.StackName = aws.String(stackName)
	cs.StackId = aws.String(stackID)
	cs.Parameters = in.Parameters
	cs.Capabilities = in.Capabilities
	cs.Changes = append([]*cloudformation.Change(nil), c.ChangeSetTemplate.Changes...)

	if _, ok := c.changeSets[stackName]; !ok {
		c.changeSets[stackName] = make(map[string]*cloudformation.DescribeChangeSetOutput)
	}
	c.changeSets[stackName][csName] = &cs

	return &cloudformation.CreateChangeSetOutput{
		Id:      cs.ChangeSetId,
		StackId: cs.StackId,
	}, nil
}

// ExecuteChangeSet invokes mocked method if it is not nil,
// otherwise the stack of change set is moved to complete state.
func (c *MockCloudFormationAPI) ExecuteChangeSet(in *cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error) {
	c.called("ExecuteChangeSet")
	if c.MockExecuteChangeSet != nil {
		return c.MockExecuteChangeSet(in)
	}

	c.changeSetsLock.Lock()
	cs, err := c.findChangeSet(in.StackName, in.ChangeSetName)
	if err != nil {
		c.changeSetsLock.Unlock()
		return nil, err
	}
	if aws.StringValue(cs.ExecutionStatus) != cloudformation.ExecutionStatusAvailable {
		c.changeSetsLock.Unlock()
		return nil, awserr.New(cloudformation.ErrCodeInvalidChangeSetStatusException, fmt.Sprintf("ChangeSet [%s] cannot be executed in its current status of [%s]", aws.StringValue(cs.ChangeSetName), aws.StringValue(cs.ExecutionStatus)), nil)
	}
	cs.ExecutionStatus = aws.String(cloudformation.ExecutionStatusExecuteComplete)
	stackName := aws.StringValue(cs.StackName)
	c.changeSetsLock.Unlock()

	c.stacksLock.Lock()
	defer c.stacksLock.Unlock()
	if stack := c.stacks[stackName]; stack != nil {
		if aws.StringValue(stack.StackStatus) == cloudformation.StackStatusReviewInProgress {
			stack.StackStatus = aws.String(cloudformation.StackStatusCreateComplete)
		} else {
			stack.StackStatus = aws.String(cloudformation.StackStatusUpdateComplete)
		}
		stack.LastUpdatedTime = aws.Time(time.Now())
	}

	return &cloudformation.ExecuteChangeSetOutput{}, nil
}

// DeleteChangeSet invokes mocked method if it is not nil,
// otherwise the change set is removed.
func (c *MockCloudFormationAPI) DeleteChangeSet(in *cloudformation.DeleteChangeSetInput) (*cloudformation.DeleteChangeSetOutput, error) {
	c.called("DeleteChangeSet")
	if c.MockDeleteChangeSet != nil {
		return c.MockDeleteChangeSet(in)
	}

	c.changeSetsLock.Lock()
	defer c.changeSetsLock.Unlock()

	cs, err := c.findChangeSet(in.StackName, in.ChangeSetName)
	if err != nil {
		return nil, err
	}
	delete(c.changeSets[aws.StringValue(cs.StackName)], aws.StringValue(cs.ChangeSetName))

	return &cloudformation.DeleteChangeSetOutput{}, nil
}
