package cfn

import (
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// StackEventData is the data structure
// containing stack event information.
type StackEventData struct {
	EventID              string
	LogicalResourceID    string
	PhysicalResourceID   string
	ResourceProperties   string
	ResourceStatus       string
	ResourceStatusReason string
	ResourceType         string
	StackID              string
	StackName            string
	Timestamp            time.Time
}

// IsComplete indicates if resource in event is in
// completed state.
func (c StackEventData) IsComplete() bool {
	return strings.HasSuffix(c.ResourceStatus, "_COMPLETE")
}

// IsFailed indicates if resource in event is in
// failed state.
func (c StackEventData) IsFailed() bool {
	return strings.HasSuffix(c.ResourceStatus, "_FAILED")
}

// IsStack indicates if the event is about the stack itself.
func (c StackEventData) IsStack() bool {
	return c.ResourceType == "AWS::CloudFormation::Stack" && c.LogicalResourceID == c.StackName
}

func newStackEventData(in *cloudformation.StackEvent) *StackEventData {
	return &StackEventData{
		EventID:              aws.StringValue(in.EventId),
		LogicalResourceID:    aws.StringValue(in.LogicalResourceId),
		PhysicalResourceID:   aws.StringValue(in.PhysicalResourceId),
		ResourceProperties:   aws.StringValue(in.ResourceProperties),
		ResourceStatus:       aws.StringValue(in.ResourceStatus),
		ResourceStatusReason: aws.StringValue(in.ResourceStatusReason),
		ResourceType:         aws.StringValue(in.ResourceType),
		StackID:              aws.StringValue(in.StackId),
		StackName:            aws.StringValue(in.StackName),
		Timestamp:            aws.TimeValue(in.Timestamp),
	}
}

// StackEvents tracks events on single stack.
// It keeps internal identifier on last seen event and
// will notify only new events.
type StackEvents struct {
	Poller Poller

	name    string
	last    string
	cfnconn cloudformationiface.CloudFormationAPI
}

// NewStackEvents creates new StackEvents and moves the last event
// identifier to the last event of currently available events.
func NewStackEvents(cfnconn cloudformationiface.CloudFormationAPI, name string) (*StackEvents, error) {
	se := &StackEvents{
		Poller:  DefaultPoller,
		name:    name,
		cfnconn: cfnconn,
	}
	events, err := se.getEvents()
	if err != nil {
		return nil, errors.Annotatef(err, "cannot initialize stack events")
	}
	if len(events) > 0 {
		se.last = aws.StringValue(events[len(events)-1].EventId)
	}
	return se, nil
}

func (se *StackEvents) getEvents() ([]*cloudformation.StackEvent, error) {
	in := &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(se.name),
	}
	events := make([]*cloudformation.StackEvent, 0)
	for {
		out, err := se.cfnconn.DescribeStackEvents(in)
		if err != nil {
			return nil, errors.Annotatef(err, "DescribeStackEvents failed for stack '%s'", se.name)
		}
		events = append(events, out.StackEvents...)
		if out.NextToken == nil {
			break
		}
		in.NextToken = out.NextToken
	}
	// reverse
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Poll periodically reads new stack events and invokes callback
// for each of them, oldest first, until callback returns false or an
// error, or until closer is closed.
func (se *StackEvents) Poll(config WaitConfig, callback StackEventsWaitFunc) error {
	log.Debugf("starting stack events update for '%s'", se.name)
	for attempt := 1; ; attempt++ {
		events, err := se.getEvents()
		if err != nil {
			return errors.Annotatef(err, "cannot read events")
		}
		found := se.last == ""
		for _, e := range events {
			eventID := aws.StringValue(e.EventId)
			if found {
				again, err := callback(newStackEventData(e))
				if err != nil {
					return errors.Trace(err)
				}
				se.last = eventID
				if !again {
					return nil
				}
			} else if se.last == eventID {
				found = true
			}
		}
		if err := se.Poller.limit(attempt, "events of '"+se.name+"'"); err != nil {
			return err
		}
		if !se.Poller.sleep(attempt, config.Closer) {
			return nil
		}
	}
}

// StackEventsWaitFunc is the callback function type
// which is called to notify about new stack events.
type StackEventsWaitFunc func(*StackEventData) (again bool, err error)

// Wait runs Poll in background. CloseOnEnd and CloseOnError
// options of config indicate when config.Closer is closed.
func (se *StackEvents) Wait(config WaitConfig, callback StackEventsWaitFunc) {
	go func() {
		config.finish(se.Poll(config, callback))
	}()
}
