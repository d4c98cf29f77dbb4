package conduiterrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Code
	}{
		"ErrAlreadyExists":                {&ErrAlreadyExists{}, CodeAlreadyExists},
		"ErrNotFound":                     {&ErrNotFound{}, CodeNotFound},
		"ErrInvalidArgument":              {&ErrInvalidArgument{}, CodeInvalidArgument},
		"pkg.Error => ErrAlreadyExists":   {errors.WithMessage(&ErrAlreadyExists{}, "foo"), CodeAlreadyExists},
		"pkg.Error => ErrNotFound":        {errors.WithMessage(&ErrNotFound{}, "foo"), CodeNotFound},
		"pkg.Error => ErrInvalidArgument": {errors.WithStack(&ErrInvalidArgument{}), CodeInvalidArgument},
		"pkg.Error":                       {errors.New("foo"), CodeUnknown},
		"nil":                             {nil, CodeOK},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeFromError(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `resource "heartbeat" of type "topic" already exists`,
		(&ErrAlreadyExists{Type: "topic", Value: "heartbeat"}).Error())
	assert.Equal(t, `resource "heartbeat" does not exist; unknown topic`,
		(&ErrNotFound{Value: "heartbeat", Message: "unknown topic"}).Error())
	assert.Equal(t, `value 0 is invalid for field "port"; must be positive`,
		(&ErrInvalidArgument{Name: "port", Value: 0, Message: "must be positive"}).Error())
}
