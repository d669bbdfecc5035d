package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dgellow/signin-gate/internal/idp"
	"github.com/stretchr/testify/assert"
)

func TestError_Unwrap(t *testing.T) {
	err := fmt.Errorf("callback: %w", &Error{Kind: KindTokenExchangeFailed, Err: idp.ErrTokenExchangeFailed})

	assert.ErrorIs(t, err, idp.ErrTokenExchangeFailed)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindTokenExchangeFailed, kind)
	assert.Equal(t, "callback: token_exchange_failed: token exchange failed", err.Error())
}

func TestKindOf_NotAuthError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorKind_MessageIsGeneric(t *testing.T) {
	kinds := []ErrorKind{
		KindInvalidState, KindProviderDenied, KindTokenExchangeFailed, KindProfileFetchFailed,
		KindMissingRequiredClaim, KindSessionIssueFailed, KindInvalidSession, KindStateStoreFailed,
		ErrorKind("other"),
	}
	for _, k := range kinds {
		msg := k.Message()
		assert.NotEmpty(t, msg)
		assert.NotContains(t, msg, string(k))
	}
}

func TestErrorKind_Known(t *testing.T) {
	assert.True(t, KindInvalidState.Known())
	assert.True(t, KindSessionIssueFailed.Known())
	assert.True(t, KindStateStoreFailed.Known())
	assert.False(t, ErrorKind("<script>").Known())
	assert.False(t, ErrorKind("").Known())
}
