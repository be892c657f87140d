package awsutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

func TestClassify(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchKey", Fault: smithy.FaultClient}
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException", Fault: smithy.FaultClient}
	internal := &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}

	assert.Nil(t, Classify(nil))

	err := Classify(fmt.Errorf("get object: %w", notFound), "NoSuchKey")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Equal(t, "NoSuchKey", Code(err))

	err = Classify(denied)
	assert.ErrorIs(t, err, errdefs.ErrRejected)
	assert.True(t, errdefs.IsPermanent(err))

	err = Classify(throttled)
	assert.False(t, errdefs.IsPermanent(err))

	err = Classify(internal)
	assert.False(t, errdefs.IsPermanent(err))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, Classify(plain))

	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.Empty(t, Code(plain))
}
