package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfAndMsgOf(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := fmt.Errorf("latest: %w", Wrap(base, StoreUnavailable, "store unavailable"))

	assert.Equal(t, StoreUnavailable, CodeOf(err))
	assert.Equal(t, "store unavailable", MsgOf(err))
	assert.ErrorIs(t, err, base)

	assert.Equal(t, ServerCommonError, CodeOf(base))
	assert.Equal(t, MapErrMsg(ServerCommonError), MsgOf(base))
	assert.Equal(t, MapErrMsg(RecordNotFound), MsgOf(NewErrCode(RecordNotFound)))
	assert.Nil(t, Wrap(nil, RecordNotFound, "x"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(RequestParamsError))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(RecordNotFound))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(TooManyRequests))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(StoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(12345))
}
