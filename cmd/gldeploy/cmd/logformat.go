package cmd

import (
	"bytes"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/deploy"
)

type logFormatter struct{}

var logLevelColor = map[log.Level]struct{ key, value *color.Color }{
	log.PanicLevel: {color.New(color.FgRed), color.New(color.FgRed)},
	log.FatalLevel: {color.New(color.FgRed), color.New(color.FgRed)},
	log.ErrorLevel: {color.New(color.FgRed), color.New(color.FgRed)},
	log.WarnLevel:  {color.New(color.FgYellow), nil},
	log.InfoLevel:  {color.New(color.FgCyan), nil},
	log.DebugLevel: {color.New(color.FgWhite), nil},
	log.TraceLevel: {color.New(color.FgWhite), nil},
}

var stackPrefix = deploy.Formatter{}.StackName("")

// formatName shortens generated stack names to the game name.
func formatName(name string) string {
	return color.CyanString(strings.TrimPrefix(name, stackPrefix))
}

func (l *logFormatter) Format(e *log.Entry) ([]byte, error) {
	var buf bytes.Buffer
	c := logLevelColor[e.Level]
	buf.WriteString(c.key.Sprint(e.Level.String()))
	buf.WriteString(": ")
	if stack, ok := e.Data["stack"].(string); ok {
		buf.WriteString(formatName(stack))
		if resource, ok := e.Data["resource"].(string); ok {
			buf.WriteString("/")
			buf.WriteString(color.HiWhiteString(resource))
		}
		if typ, ok := e.Data["type"].(string); ok {
			buf.WriteString(" (")
			buf.WriteString(typ)
			buf.WriteString(")")
		}
		buf.WriteString(" - ")
	}
	if c.value != nil {
		buf.WriteString(c.value.Sprint(e.Message))
	} else {
		buf.WriteString(e.Message)
	}
	if err, ok := e.Data[log.ErrorKey].(error); ok && log.IsLevelEnabled(log.DebugLevel) {
		buf.WriteString(": ")
		buf.WriteString(err.Error())
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
