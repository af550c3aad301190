package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaExceeded_Unwrap(t *testing.T) {
	qe := &QuotaExceeded{Plan: "free", Window: "minute", Limit: 10, RetryAfter: 30}
	assert.ErrorIs(t, qe, ErrQuotaExceeded)
	assert.Contains(t, qe.Error(), "free")
	assert.Contains(t, qe.Error(), "minute")
}

func TestParseError_Message(t *testing.T) {
	pe := &ParseError{Offset: 12, Reason: "unmatched closing brace"}
	assert.Equal(t, "template parse error at offset 12: unmatched closing brace", pe.Error())
}

func TestParseError_IsError(t *testing.T) {
	var err error = &ParseError{Offset: 0, Reason: "x"}
	var target *ParseError
	assert.True(t, errors.As(err, &target))
}
