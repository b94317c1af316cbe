package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := NewError(KindOutOfRange, "sequence %d is gone", 4)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.NotErrorIs(t, err, ErrTooMany)
	assert.Equal(t, "sequence 4 is gone", err.Error())

	wrapped := Wrap(err, "buffer", "Range", "read")
	assert.ErrorIs(t, wrapped, ErrOutOfRange)
	assert.Equal(t, KindOutOfRange, KindOf(wrapped))
	assert.Equal(t, "buffer.Range: read failed: sequence 4 is gone", wrapped.Error())
}

func TestKindOfUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "INTERNAL_ERROR", KindOf(fmt.Errorf("x")).String())
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindInternal, cause, "persist state")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persist state: disk full", err.Error())
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestWireCodes(t *testing.T) {
	codes := map[ErrorKind]string{
		KindNoDevice:       "NO_DEVICE",
		KindOutOfRange:     "OUT_OF_RANGE",
		KindTooMany:        "TOO_MANY",
		KindInvalidRequest: "INVALID_REQUEST",
		KindUnsupported:    "UNSUPPORTED",
		KindAssetNotFound:  "ASSET_NOT_FOUND",
	}
	for kind, code := range codes {
		assert.Equal(t, code, kind.String())
		assert.Equal(t, code, (&Error{Kind: kind}).Error())
	}
}
