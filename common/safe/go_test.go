package safe

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRunRecoversPanic(t *testing.T) {
	err := Run(func() error {
		panic("boom")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	cause := errors.New("bad state")
	err = Run(func() error {
		panic(cause)
	})
	assert.ErrorIs(t, err, cause)
}

func TestGo(t *testing.T) {
	assert.NoError(t, <-Go(func() error { return nil }))
	assert.EqualError(t, <-Go(func() error { return errors.New("failed") }), "failed")
}

func TestGoChannelWithMessage(t *testing.T) {
	errorChan := make(chan error, 1)
	GoChannelWithMessage(func() error { return errors.New("io") }, "source", errorChan)
	assert.EqualError(t, <-errorChan, "source: io")
}
