package deploy

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Formatter generates names of stacks, change sets and
// the S3 keys of uploaded artifacts.
type Formatter struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (f Formatter) timestamp() int64 {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return now().UnixNano()
}

// StackName returns the stack name of game.
func (f Formatter) StackName(gameName string) string {
	return "GameLiftPluginForUnity-" + gameName
}

// ChangeSetName returns a new unique change set name.
func (f Formatter) ChangeSetName() string {
	return "changeset-" + uuid.New().String()
}

// BuildS3Key returns a new key of server build archive.
func (f Formatter) BuildS3Key() string {
	return fmt.Sprintf("GameLift_Build_%d.zip", f.timestamp())
}

// TemplateKey returns a new key of the template file.
// Timestamp is inserted between the name and the extension.
func (f Formatter) TemplateKey(templatePath string) string {
	base := filepath.Base(templatePath)
	name, ext := base, ""
	if i := strings.Index(base, "."); i >= 0 {
		name = base[:i]
		ext = base[strings.LastIndex(base, ".")+1:]
	}
	key := fmt.Sprintf("CloudFormation/%s_%d", name, f.timestamp())
	if ext != "" {
		key += "." + ext
	}
	return key
}

// LambdaS3Key returns a new key of lambda archive of game.
func (f Formatter) LambdaS3Key(gameName string) string {
	return fmt.Sprintf("functions/gamelift/GameLift_%s_%d.zip", gameName, f.timestamp())
}
