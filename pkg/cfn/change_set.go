package cfn

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// ChangeSet represents that AWS CloudFormation
// change set resoruce.
type ChangeSet struct {
	Poller Poller

	id        string
	name      string
	stackName string
	cfnconn   cloudformationiface.CloudFormationAPI
	data      *ChangeSetData
}

func (cs *ChangeSet) newChangeSetData(in *cloudformation.DescribeChangeSetOutput) *ChangeSetData {
	if in == nil {
		return &ChangeSetData{
			ID:        cs.id,
			Name:      cs.name,
			Status:    ChangeSetStatusNotFound,
			StackData: &StackData{Name: cs.stackName},
		}
	}
	c := &ChangeSetData{
		ID:              aws.StringValue(in.ChangeSetId),
		Name:            aws.StringValue(in.ChangeSetName),
		ExecutionStatus: aws.StringValue(in.ExecutionStatus),
		Status:          aws.StringValue(in.Status),
		StatusReason:    aws.StringValue(in.StatusReason),
		StackData:       &StackData{},
		Changes:         make([]*cloudformation.ResourceChange, 0, len(in.Changes)),
	}

	for _, change := range in.Changes {
		c.Changes = append(c.Changes, change.ResourceChange)
	}

	c.StackData.unmarshalDescribeChangeSetOutput(in)

	return c
}

// NewChangeSet creates new ChangeSet object from existing
// AWS CloudFormation changeset.
func NewChangeSet(conn cloudformationiface.CloudFormationAPI, csData *ChangeSetData) (*ChangeSet, error) {
	if csData.ID == "" && (csData.Name == "" || csData.StackData == nil) {
		return nil, errors.Errorf("neither change set id nor change set and stack names are set")
	}
	cs := &ChangeSet{
		Poller:  DefaultPoller,
		cfnconn: conn,
		data:    csData,
		id:      csData.ID,
		name:    csData.Name,
	}
	if csData.StackData != nil {
		cs.stackName = csData.StackData.Name
	}
	if err := cs.Refresh(); err != nil {
		return nil, errors.Trace(err)
	}
	return cs, nil
}

// CreateChangeSet creates new ChangeSet described by
// csData argument.
func CreateChangeSet(conn cloudformationiface.CloudFormationAPI, csData *ChangeSetData) (*ChangeSet, error) {
	cs := &ChangeSet{
		Poller:    DefaultPoller,
		cfnconn:   conn,
		name:      csData.Name,
		stackName: csData.StackData.Name,
	}
	in := &cloudformation.CreateChangeSetInput{}
	csData.StackData.marshalCreateChangeSetInput(in)

	if csData.IsNew {
		in.ChangeSetType = aws.String(cloudformation.ChangeSetTypeCreate)
	} else {
		in.ChangeSetType = aws.String(cloudformation.ChangeSetTypeUpdate)
	}

	in.ChangeSetName = aws.String(csData.Name)
	out, err := conn.CreateChangeSet(in)
	if err != nil {
		return nil, errors.Annotatef(err, "CreateChangeSet failed")
	}

	cs.id = aws.StringValue(out.Id)

	return cs, nil
}

// describeInput identifies the change set either by
// id or by change set name and stack name.
func (cs *ChangeSet) describeInput() (*cloudformation.DescribeChangeSetInput, error) {
	in := &cloudformation.DescribeChangeSetInput{}
	if cs.id != "" {
		in.ChangeSetName = aws.String(cs.id)
	} else if cs.name != "" && cs.stackName != "" {
		in.ChangeSetName = aws.String(cs.name)
		in.StackName = aws.String(cs.stackName)
	} else {
		return nil, errors.Errorf("neither change set id nor change set and stack names are set")
	}
	return in, nil
}

// read reads all pages of the change set. If change
// set does not exist, data with ChangeSetStatusNotFound
// status is returned.
func (cs *ChangeSet) read(in *cloudformation.DescribeChangeSetInput) (*ChangeSetData, error) {
	var csData *ChangeSetData

	in.NextToken = nil

	for {
		out, err := cs.cfnconn.DescribeChangeSet(in)
		if err != nil {
			if e, ok := errors.Cause(err).(awserr.Error); ok && e.Code() == cloudformation.ErrCodeChangeSetNotFoundException {
				return cs.newChangeSetData(nil), nil
			}
			return nil, errors.Annotatef(err, "cannot describe change set (%s)", aws.StringValue(in.ChangeSetName))
		}

		newData := cs.newChangeSetData(out)
		if csData != nil {
			csData.Changes = append(csData.Changes, newData.Changes...)
		} else {
			csData = newData
		}

		if out.NextToken == nil {
			return csData, nil
		}
		in.NextToken = out.NextToken
	}
}

// ChangeSetWaitFunc is the callback function type
// which is called to verify change set updates.
type ChangeSetWaitFunc func(*ChangeSetData) (again bool, err error)

// Poll periodically reads change set data and invokes callback
// until it returns false or an error, or until closer is closed.
func (cs *ChangeSet) Poll(config WaitConfig, callback ChangeSetWaitFunc) error {
	in, err := cs.describeInput()
	if err != nil {
		return errors.Trace(err)
	}

	for attempt := 1; ; attempt++ {
		csData, err := cs.read(in)
		if err != nil {
			return errors.Trace(err)
		}

		cs.data = csData
		if csData.Exists() {
			cs.name = csData.Name
		}
		log.Debugf("change set '%s' status %s, execution status %s", cs.name, csData.Status, csData.ExecutionStatus)

		again, err := callback(csData)
		if err != nil {
			return errors.Trace(err)
		} else if !again {
			return nil
		}
		if err := cs.Poller.limit(attempt, "change set '"+cs.name+"'"); err != nil {
			return err
		}
		if !cs.Poller.sleep(attempt, config.Closer) {
			return nil
		}
	}
}

// Wait runs Poll in background. CloseOnEnd and CloseOnError
// options of config indicate when config.Closer is closed.
func (cs *ChangeSet) Wait(config WaitConfig, callback ChangeSetWaitFunc) {
	go func() {
		config.finish(cs.Poll(config, callback))
	}()
}

// Refresh reads the current state of the change set once.
func (cs *ChangeSet) Refresh() error {
	return errors.Trace(cs.Poll(WaitConfig{}, func(*ChangeSetData) (bool, error) {
		return false, nil
	}))
}

// ID returns the id of the change set. The id is
// empty for change sets opened by name which were not read yet.
func (cs *ChangeSet) ID() string {
	if cs.id == "" && cs.data != nil {
		return cs.data.ID
	}
	return cs.id
}

// Data returns the change set data.
func (cs *ChangeSet) Data() *ChangeSetData {
	if cs.data == nil {
		cs.data = cs.newChangeSetData(nil)
	}
	return cs.data
}

// Execute invokes AWS CloudFormation ExecuteChangeSet
// API.
func (cs *ChangeSet) Execute() error {
	in := &cloudformation.ExecuteChangeSetInput{}

	if cs.id != "" {
		in.ChangeSetName = aws.String(cs.id)
	} else if cs.name != "" && cs.stackName != "" {
		in.ChangeSetName = aws.String(cs.name)
		in.StackName = aws.String(cs.stackName)
	} else {
		return errors.Errorf("neither change set id nor change set and stack names are set")
	}

	_, err := cs.cfnconn.ExecuteChangeSet(in)
	return errors.Trace(err)
}

// Delete invokes AWS CloudFormation DeleteChangeSet API.
func (cs *ChangeSet) Delete() error {
	in := &cloudformation.DeleteChangeSetInput{}

	if cs.id != "" {
		in.ChangeSetName = aws.String(cs.id)
	} else if cs.name != "" && cs.stackName != "" {
		in.ChangeSetName = aws.String(cs.name)
		in.StackName = aws.String(cs.stackName)
	} else {
		return errors.Errorf("neither change set id nor change set and stack names are set")
	}

	_, err := cs.cfnconn.DeleteChangeSet(in)
	return errors.Trace(err)
}
