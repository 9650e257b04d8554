// Package logging provides a fluent field builder on top of logrus, used
// uniformly across the chameleon packages instead of ad-hoc WithField calls.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields accumulates structured log fields with a chainable builder API.
type Fields struct {
	fields logrus.Fields
}

// NewFields starts an empty field set.
func NewFields() *Fields {
	return &Fields{fields: logrus.Fields{}}
}

func (f *Fields) Component(name string) *Fields {
	f.fields["component"] = name
	return f
}

func (f *Fields) Operation(name string) *Fields {
	f.fields["operation"] = name
	return f
}

func (f *Fields) Resource(resourceType, name string) *Fields {
	f.fields["resource_type"] = resourceType
	f.fields["resource_name"] = name
	return f
}

func (f *Fields) Duration(d time.Duration) *Fields {
	f.fields["duration_ms"] = d.Milliseconds()
	return f
}

func (f *Fields) Error(err error) *Fields {
	if err == nil {
		return f
	}
	f.fields["error"] = err.Error()
	return f
}

func (f *Fields) UOWID(id string) *Fields {
	f.fields["uow_id"] = id
	return f
}

func (f *Fields) InstanceID(id string) *Fields {
	f.fields["instance_id"] = id
	return f
}

func (f *Fields) ActorID(id string) *Fields {
	f.fields["actor_id"] = id
	return f
}

func (f *Fields) RoleID(id string) *Fields {
	f.fields["role_id"] = id
	return f
}

func (f *Fields) Count(n int) *Fields {
	f.fields["count"] = n
	return f
}

func (f *Fields) Custom(key string, value interface{}) *Fields {
	f.fields[key] = value
	return f
}

// ToLogrus returns the accumulated fields as a logrus.Fields value.
func (f *Fields) ToLogrus() logrus.Fields {
	return f.fields
}

// NewComponentLogger returns a *logrus.Entry pre-populated with a component
// field, matching the convention used by every chameleon package logger.
func NewComponentLogger(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
