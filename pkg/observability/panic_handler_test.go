package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "seed watcher")
		panic("bad seed")
	}()

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), "seed watcher")
	assert.Contains(t, buf.String(), "bad seed")
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))

	err := func() (err error) {
		defer func() {
			if perr := MustRecover(recover()); perr != nil {
				err = perr
			}
		}()
		panic("boom")
	}()
	assert.EqualError(t, err, "panic: boom")
}
