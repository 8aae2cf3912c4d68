package mailer

import (
	"bytes"
	_ "embed"
	htmltemplate "html/template"
	"os"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// Template names.
const (
	NotificationSubject = "NOTIFICATION-SUBJECT"
	NotificationBody    = "NOTIFICATION-BODY"
	ReminderSubject     = "REMINDER-SUBJECT"
	ReminderBody        = "REMINDER-BODY"
)

// Template variables.
const (
	VarComment     = "COMMENT"
	VarCheckInTime = "CHECKIN_TIME"
	VarItemID      = "ITEM_ID"
	VarFirstName   = "FIRST_NAME"
	VarLastName    = "LAST_NAME"
	VarExternalID  = "EXTERNAL_ID"
	VarItemCount   = "ITEM_COUNT"
)

var templateNames = []string{NotificationSubject, NotificationBody, ReminderSubject, ReminderBody}

// TemplateResolver renders the named templates for a set of variables.
type TemplateResolver interface {
	ResolveTemplates(vars map[string]string) (map[string]string, error)
}

//go:embed default_templates.yaml
var defaultTemplates []byte

// TemplateSet is a TemplateResolver backed by a YAML document mapping each
// template name to its source.  Subjects are text templates, bodies are
// HTML templates, so variables in bodies are escaped.  Sprig functions are
// available in both.
type TemplateSet struct {
	subjects map[string]*texttemplate.Template
	bodies   map[string]*htmltemplate.Template
}

// LoadTemplates reads a template set from path, or the built-in set when
// path is empty.
func LoadTemplates(path string) (*TemplateSet, error) {
	if path == "" {
		return ParseTemplates(defaultTemplates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read templates %s", path)
	}
	return ParseTemplates(data)
}

// ParseTemplates parses a YAML template set.
func ParseTemplates(data []byte) (*TemplateSet, error) {
	var sources map[string]string
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, errors.Wrap(err, "cannot parse templates")
	}

	ts := &TemplateSet{
		subjects: map[string]*texttemplate.Template{},
		bodies:   map[string]*htmltemplate.Template{},
	}
	for _, name := range templateNames {
		src, ok := sources[name]
		if !ok {
			return nil, errors.Newf("template %s is not defined", name)
		}
		if strings.HasSuffix(name, "-SUBJECT") {
			t, err := texttemplate.New(name).Funcs(sprig.TxtFuncMap()).
				Option("missingkey=zero").Parse(strings.TrimSpace(src))
			if err != nil {
				return nil, errors.Wrapf(err, "template %s", name)
			}
			ts.subjects[name] = t
			continue
		}
		t, err := htmltemplate.New(name).Funcs(sprig.FuncMap()).
			Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, errors.Wrapf(err, "template %s", name)
		}
		ts.bodies[name] = t
	}
	return ts, nil
}

// ResolveTemplates renders every template with vars.
func (ts *TemplateSet) ResolveTemplates(vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(templateNames))
	var buf bytes.Buffer
	for name, t := range ts.subjects {
		buf.Reset()
		if err := t.Execute(&buf, vars); err != nil {
			return nil, errors.Wrapf(err, "template %s", name)
		}
		// a subject is a single header line
		out[name] = strings.Join(strings.Fields(buf.String()), " ")
	}
	for name, t := range ts.bodies {
		buf.Reset()
		if err := t.Execute(&buf, vars); err != nil {
			return nil, errors.Wrapf(err, "template %s", name)
		}
		out[name] = buf.String()
	}
	return out, nil
}
