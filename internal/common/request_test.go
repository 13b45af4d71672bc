package common_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/common"
)

type discountPayload struct {
	Percentage *float64 `json:"percentage" validate:"required,gte=0,lte=100"`
}

func TestDecodeJSONValidation(t *testing.T) {
	var p discountPayload
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percentage":150}`))
	appErr := common.DecodeJSON(req, &p)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percent":10}`))
	appErr = common.DecodeJSON(req, &p)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percentage":10}`))
	require.Nil(t, common.DecodeJSON(req, &p))
	require.Equal(t, 10.0, *p.Percentage)
}

func TestWriteAppErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, common.NewAppError("STOCK_EXCEEDED", "only 2 units available", http.StatusUnprocessableEntity, nil))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "STOCK_EXCEEDED", body.Error.Code)
	require.Equal(t, "only 2 units available", body.Error.Message)
}

func TestIdempotencyReleasesRejectedRequests(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusUnprocessableEntity
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/commit", nil)
		req.Header.Set("Idempotency-Key", "k-1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusUnprocessableEntity, do())
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, do())
	require.Equal(t, http.StatusConflict, do())
}

func TestIdempotencyReleasesMarkedRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	release := true
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if release {
			common.ReleaseIdempotencyKey(r.Context())
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/commit", nil)
		req.Header.Set("Idempotency-Key", "k-2")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusBadGateway, do())
	require.Equal(t, http.StatusBadGateway, do())
	release = false
	require.Equal(t, http.StatusBadGateway, do())
	require.Equal(t, http.StatusConflict, do())
}
