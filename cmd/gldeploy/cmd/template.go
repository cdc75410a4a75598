package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/spirius/gldeploy/pkg/cfn"
	"github.com/spirius/gldeploy/pkg/deploy"
)

func addColorFunc(funcMap map[string]interface{}, name string, fn func(format string, a ...interface{}) string) {
	funcMap[name] = func(content string) string {
		return fn("%s", content)
	}
	funcMap[name+"f"] = func(format string, a ...interface{}) string {
		return fn(format, a...)
	}
}

// statusColor colors CloudFormation statuses and deployment states.
func statusColor(s string) string {
	switch {
	case s == cloudformation.StackStatusRollbackInProgress:
		return color.HiRedString(s)
	case s == cloudformation.StackStatusRollbackComplete:
		return color.RedString(s)
	case strings.HasSuffix(s, "_COMPLETE"), s == "AVAILABLE", s == string(deploy.Succeeded):
		return color.GreenString(s)
	case strings.HasSuffix(s, "_IN_PROGRESS"), strings.HasSuffix(s, "_PENDING"), s == string(deploy.AwaitingConfirmation):
		return color.YellowString(s)
	case s == cfn.StackStatusNotFound, s == "UNAVAILABLE", s == string(deploy.NoChanges), s == string(deploy.Cancelled):
		return color.HiBlackString(s)
	case strings.HasSuffix(s, "_FAILED"), s == string(deploy.Failed):
		return color.RedString(s)
	}
	return color.WhiteString(s)
}

var tplHandler *template.Template

func init() {
	funcMap := sprig.TxtFuncMap()

	addColorFunc(funcMap, "cyan", color.CyanString)
	addColorFunc(funcMap, "green", color.GreenString)
	addColorFunc(funcMap, "hiblack", color.HiBlackString)
	addColorFunc(funcMap, "hired", color.HiRedString)
	addColorFunc(funcMap, "hiwhite", color.HiWhiteString)
	addColorFunc(funcMap, "red", color.RedString)
	addColorFunc(funcMap, "yellow", color.YellowString)

	funcMap["status"] = statusColor

	tplHandler = template.New("").Funcs(funcMap)
}

func render(w io.Writer, content, defs string, ctx interface{}) error {
	content = fmt.Sprintf(`%s{{ with $.ctx }}%s{{ end }}`, defs, content)
	tpl, err := template.Must(tplHandler.Clone()).Parse(content)
	if err != nil {
		return errors.Annotatef(err, "cannot parse template")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	newCtx := map[string]interface{}{
		"ctx": ctx,
		"const": map[string]string{
			"ChangeActionAdd":    cloudformation.ChangeActionAdd,
			"ChangeActionModify": cloudformation.ChangeActionModify,
			"ChangeActionRemove": cloudformation.ChangeActionRemove,

			"ReplacementTrue":        cloudformation.ReplacementTrue,
			"ReplacementFalse":       cloudformation.ReplacementFalse,
			"ReplacementConditional": cloudformation.ReplacementConditional,
		},
	}
	if err = tpl.Execute(tw, newCtx); err != nil {
		return errors.Annotatef(err, "cannot execute template")
	}
	if err = tw.Flush(); err != nil {
		return errors.Trace(err)
	}
	return nil
}
