package logging

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(fmt.Errorf("plain")))
	assert.NotNil(t, ExtractStack(errors.New("with stack")))
	assert.NotNil(t, ExtractStack(fmt.Errorf("wrapped: %w", errors.New("with stack"))))
}

func TestWithStacktrace(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())

	plain := WithStacktrace(entry, fmt.Errorf("plain"))
	assert.Contains(t, plain.Data, logrus.ErrorKey)
	assert.NotContains(t, plain.Data, Stacktrace)

	withStack := WithStacktrace(entry, errors.New("with stack"))
	assert.Contains(t, withStack.Data, Stacktrace)
}
