package cmd

import (
	"fmt"
	"io"

	"github.com/juju/errors"

	"github.com/spirius/gldeploy/pkg/credentials"
	"github.com/spirius/gldeploy/pkg/deploy"
	"github.com/spirius/gldeploy/pkg/gamelift"
)

func newOutput(in interface{}) output {
	return &outputCommon{in, outputTypeLong}
}

const (
	outputTypeLong = iota
	outputTypeShort
)

type output interface {
	Long() output
	Short() output

	Output(io.Writer)
}

type outputCommon struct {
	data interface{}
	typ  int
}

func (o *outputCommon) Short() output {
	return &outputCommon{o.data, outputTypeShort}
}

func (o *outputCommon) Long() output {
	return &outputCommon{o.data, outputTypeLong}
}

// message is a single line of output.
type message string

// list is a list of names, one per line.
type list []string

type setting struct {
	Key, Value string
}

// settingList is the content of settings document.
type settingList []setting

func (o *outputCommon) Output(w io.Writer) {
	var err error
	switch data := o.data.(type) {
	case *deploy.StackDescriptor:
		err = outputStack(w, data, o.typ)
	case deploy.Outcome:
		err = outputOutcome(w, data, o.typ)
	case *gamelift.Plan:
		err = render(w, outputPlanTpl, outputPlanTplDefs, data)
	case *gamelift.BootstrapResult:
		err = render(w, outputBootstrapTpl, "", data)
	case *credentials.Profile:
		err = render(w, outputProfileTpl, "", data)
	case settingList:
		err = render(w, outputSettingsTpl, "", data)
	case list:
		for _, s := range data {
			if _, err = fmt.Fprintln(w, s); err != nil {
				break
			}
		}
	case message:
		_, err = fmt.Fprintln(w, data)
	default:
		err = errors.Errorf("unknown data: %#+v", o.data)
	}
	if err != nil {
		panic(err)
	}
}

const outputStackShortTpl = `
{{- "StackName" | hiwhite }}:	{{ .StackName | cyan }}
{{ "StackStatus" | hiwhite }}:	{{ .Status | status }} {{ .StatusReason }}
{{- if .GameName }}
{{ "GameName" | hiwhite }}:	{{ .GameName }}
{{- end }}
{{ "Id" | hiwhite }}:	{{ .StackID }}
{{ "LastUpdated" | hiwhite }}:	{{ .LastUpdatedTime.Format "2006-01-02 15:04:05 MST" }}
`

const outputStackLongTpl = outputStackShortTpl +
	`{{ "Parameters" | hiwhite }}:
{{- range $k, $v := .Parameters }}
  {{ $k | hiwhite }}:	{{ $v | quote }}
{{- end }}
{{ "Outputs" | hiwhite }}:
{{- range $k, $v := .Outputs }}
  {{ $k | hiwhite }}:	{{ $v | quote }}
{{- end }}
`

func outputStack(w io.Writer, stack *deploy.StackDescriptor, typ int) error {
	switch typ {
	case outputTypeShort:
		return errors.Trace(render(w, outputStackShortTpl, "", stack))
	case outputTypeLong:
		return errors.Trace(render(w, outputStackLongTpl, "", stack))
	}
	return errors.Errorf("output type %d for stack is not implemented", typ)
}

const outputOutcomeShortTpl = `
{{- "State" | hiwhite }}:	{{ .State | toString | status }}
{{- if .Code }}
{{ "Error" | hiwhite }}:	{{ .Code | toString | red }}{{ if .Message }} {{ .Message }}{{ end }}
{{- end }}
{{- if .DeploymentID }}
{{ "DeploymentId" | hiwhite }}:	{{ .DeploymentID.String }}
{{- end }}
`

const outputOutcomeLongTpl = outputOutcomeShortTpl + `
{{- with .Stack }}
{{ "StackName" | hiwhite }}:	{{ .StackName | cyan }}
{{ "StackStatus" | hiwhite }}:	{{ .Status | status }} {{ .StatusReason }}
{{- if .Outputs }}
{{ "Outputs" | hiwhite }}:
{{- range $k, $v := .Outputs }}
  {{ $k | hiwhite }}:	{{ $v | quote }}
{{- end }}
{{- end }}
{{- end }}
`

func outputOutcome(w io.Writer, out deploy.Outcome, typ int) error {
	tpl := outputOutcomeLongTpl
	if typ == outputTypeShort {
		tpl = outputOutcomeShortTpl
	}
	return errors.Trace(render(w, tpl, "", out))
}

const outputPlanTplDefs = `
{{- define "change" }}
  {{- if eq .Action $.const.ChangeActionAdd }}
{{ greenf "[+] " }}{{ .LogicalID | green }} ({{ .ResourceType }})
  {{- else if eq .Action $.const.ChangeActionRemove }}
{{ redf "[-] " }}{{ .LogicalID | red }} ({{ .ResourceType }})
  {{- else if eq .Action $.const.ChangeActionModify }}
    {{- if eq .Replacement $.const.ReplacementTrue }}
{{ redf "[±] " }}{{ .LogicalID | red }} ({{ .ResourceType }}) {{ "(forces recreation)" | red }}
    {{- else if eq .Replacement $.const.ReplacementConditional }}
{{ hiredf "[±] " }}{{ .LogicalID | hired }} ({{ .ResourceType }}) {{ "(conditional recreation)" | hired }}
    {{- else }}
{{ yellowf "[~] " }}{{ .LogicalID | yellow }} ({{ .ResourceType }})
    {{- end }}
  {{- else }}
{{ hiredf "[?] " }}{{ .LogicalID | hired }} ({{ .ResourceType }})
  {{- end }}
{{- end -}}
`

const outputPlanTpl = `
{{- "StackName" | hiwhite }}:	{{ .ChangeSet.StackName | cyan }}
{{ "ChangeSetName" | hiwhite }}:	{{ .ChangeSet.ChangeSetName }}
{{ "ExecutionStatus" | hiwhite }}:	{{ .ChangeSet.ExecutionStatus | status }}

{{- if .Parameters.HasChange }}

{{ "Parameters" | hiwhite }}:
{{- range $_, $name := .Parameters.Keys }}
  {{- $d := index $.ctx.Parameters $name }}
  {{- if not $d.IsEqual }}
  {{ $name | hiwhite }}:	{{ if $d.Added }}{{ greenf "[+] " }}{{ else if $d.Removed }}{{ redf "[-] " }}{{ end }}{{ $d.String | yellow }}
  {{- end }}
{{- end }}
{{- end }}

{{- if .ChangeSet.Changes }}

{{ "ResourceChanges" | hiwhite }}:
{{- range $_, $c := .ChangeSet.Changes }}
  {{- template "change" (dict "const" $.const "Action" $c.Action "LogicalID" $c.LogicalID "ResourceType" $c.ResourceType "Replacement" $c.Replacement) }}
{{- end }}
{{- end }}

`

const outputBootstrapTpl = `
{{- "Profile" | hiwhite }}:	{{ .Profile }}
{{ "Region" | hiwhite }}:	{{ .Region }}
{{ "Bucket" | hiwhite }}:	{{ .BucketName | cyan }}
{{ "LifecyclePolicy" | hiwhite }}:	{{ .Policy.String }}
{{ "Console" | hiwhite }}:	{{ .URL }}
`

const outputProfileTpl = `
{{- "Profile" | hiwhite }}:	{{ .Name | cyan }}
{{ "AccessKey" | hiwhite }}:	{{ .AccessKey }}
{{ "SecretKey" | hiwhite }}:	{{ if .SecretKey }}{{ repeat (len .SecretKey) "*" }}{{ end }}
{{- if .Region }}
{{ "Region" | hiwhite }}:	{{ .Region }}
{{- end }}
`

const outputSettingsTpl = `
{{- range $_, $s := . }}{{ $s.Key | hiwhite }}:	{{ $s.Value }}
{{ end -}}
`
