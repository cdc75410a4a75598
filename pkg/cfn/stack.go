package cfn

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Stack represents AWS CloudFormation
// stack resource.
type Stack struct {
	Name   string
	Poller Poller

	data    *StackData
	cfnconn cloudformationiface.CloudFormationAPI
}

// NewStack creates new Stack and reads its current state.
func NewStack(cfnconn cloudformationiface.CloudFormationAPI, name string) (*Stack, error) {
	stack := &Stack{Name: name, Poller: DefaultPoller, cfnconn: cfnconn}
	if err := stack.Refresh(); err != nil {
		return nil, errors.Annotatef(err, "cannot create new stack")
	}
	return stack, nil
}

// isNotFound indicates if err is the validation error
// returned for stacks which do not exist.
func isNotFound(err error) bool {
	e, ok := errors.Cause(err).(awserr.Error)
	return ok && e.Code() == "ValidationError"
}

// read the stack. If stack is not found, nil is returned.
func (s *Stack) read() (*cloudformation.Stack, error) {
	out, err := s.cfnconn.DescribeStacks(&cloudformation.DescribeStacksInput{
		StackName: aws.String(s.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "cannot read stack")
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	return out.Stacks[0], nil
}

// StackWaitFunc is the callback function type
// which is called to verify stack updates.
type StackWaitFunc func(*StackData) (again bool, err error)

// Poll periodically reads stack data and invokes callback
// until it returns false or an error, or until closer is closed.
func (s *Stack) Poll(config WaitConfig, callback StackWaitFunc) error {
	for attempt := 1; ; attempt++ {
		cfnStack, err := s.read()
		if err != nil {
			return errors.Annotatef(err, "cannot read stack")
		}
		s.data = newStackData(s.Name, cfnStack)
		log.Debugf("stack '%s' status %s", s.Name, s.data.Status)
		again, err := callback(s.data)
		if err != nil {
			return errors.Trace(err)
		} else if !again {
			return nil
		}
		if err := s.Poller.limit(attempt, "stack '"+s.Name+"'"); err != nil {
			return err
		}
		if !s.Poller.sleep(attempt, config.Closer) {
			return nil
		}
	}
}

// Wait runs Poll in background. CloseOnEnd and CloseOnError
// options of config indicate when config.Closer is closed.
func (s *Stack) Wait(config WaitConfig, callback StackWaitFunc) {
	go func() {
		config.finish(s.Poll(config, callback))
	}()
}

// Refresh reads the current state of the stack once.
func (s *Stack) Refresh() error {
	return errors.Trace(s.Poll(WaitConfig{}, func(*StackData) (bool, error) {
		return false, nil
	}))
}

// Data returns the stack data.
func (s *Stack) Data() *StackData {
	if s.data == nil {
		s.data = newStackData(s.Name, nil)
	}
	return s.data
}

// Destroy invokes AWS CloudFormation DeleteStack API.
func (s *Stack) Destroy() error {
	_, err := s.cfnconn.DeleteStack(&cloudformation.DeleteStackInput{
		StackName: aws.String(s.Name),
	})
	return errors.Annotatef(err, "DeleteStack failed for stack '%s'", s.Name)
}

// CancelUpdate invokes AWS CloudFormation CancelUpdateStack API.
// The token makes retried requests idempotent.
func (s *Stack) CancelUpdate(token string) error {
	in := &cloudformation.CancelUpdateStackInput{
		StackName: aws.String(s.Name),
	}
	if token != "" {
		in.ClientRequestToken = aws.String(token)
	}
	_, err := s.cfnconn.CancelUpdateStack(in)
	return errors.Annotatef(err, "CancelUpdateStack failed for stack '%s'", s.Name)
}
