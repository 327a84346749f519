package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
)

func TestNonFatalUnlessCancelled_DemotesOrdinaryFailure(t *testing.T) {
	cause := apperrors.Wrap(errors.New("boom"), apperrors.ErrorTypeTransient, "fetch failed")

	err := nonFatalUnlessCancelled(cause, "campaigns: fetch campaign-messages failed", "camp_1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNonFatal))
	assert.False(t, apperrors.IsCancelled(err))
}

func TestNonFatalUnlessCancelled_PreservesCancellation(t *testing.T) {
	cancelled := apperrors.Wrap(errors.New("context canceled"), apperrors.ErrorTypeCancelled, "spool: write cancelled")

	err := nonFatalUnlessCancelled(cancelled, "campaigns: fetch tags failed", "camp_1")
	assert.True(t, apperrors.IsCancelled(err))
	assert.False(t, apperrors.IsType(err, apperrors.ErrorTypeNonFatal))
}
