package gamelift

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/juju/errors"
)

// parameterContext is exposed to parameter override templates.
type parameterContext struct {
	GameName  string
	Profile   string
	Region    string
	Bucket    string
	BuildKey  string
	StackName string
	Scenario  string
}

func newTemplate(funcs map[string]interface{}) *template.Template {
	funcMap := sprig.TxtFuncMap()
	for name, fn := range funcs {
		funcMap[name] = fn
	}
	return template.New("").Option("missingkey=error").Funcs(funcMap)
}

func renderTemplate(content string, ctx interface{}, funcs map[string]interface{}) (_ string, resErr error) {
	var buf bytes.Buffer
	tpl, err := newTemplate(funcs).Parse(content)
	if err != nil {
		return "", errors.Trace(err)
	}

	defer func() {
		if e := recover(); e != nil {
			err, ok := e.(error)
			if !ok {
				panic(e)
			}
			resErr = err
		}
	}()

	if err = tpl.Execute(&buf, ctx); err != nil {
		if tplErr, ok := err.(template.ExecError); ok {
			return "", errors.Wrapf(err, tplErr.Err, "error while executing template")
		}
		return "", errors.Trace(err)
	}

	return buf.String(), nil
}

// fileFunc returns template function "file", which reads
// a file relative to dir. Paths escaping dir are rejected.
func fileFunc(dir string) func(string) (string, error) {
	return func(path string) (string, error) {
		p := filepath.Clean(path)
		if filepath.IsAbs(p) || p == "." || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
			return "", errors.Errorf("invalid path '%s', it is absolute or outside of scenario", path)
		}
		content, err := ioutil.ReadFile(filepath.Join(dir, p))
		if err != nil {
			return "", errors.Trace(err)
		}
		return strings.TrimSpace(string(content)), nil
	}
}

// renderParameters renders every value of params as a template.
func renderParameters(params map[string]string, ctx parameterContext, dir string) (map[string]string, error) {
	funcs := map[string]interface{}{"file": fileFunc(dir)}
	res := make(map[string]string, len(params))
	for k, v := range params {
		value, err := renderTemplate(v, ctx, funcs)
		if err != nil {
			return nil, errors.Annotatef(err, "cannot render value '%s' of parameter '%s'", v, k)
		}
		res[k] = value
	}
	return res, nil
}
