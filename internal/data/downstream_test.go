package data

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SoakGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newDownstreamConf(addr string) *conf.Data {
	return &conf.Data{
		Downstream: &conf.Data_Downstream{
			Addr:    addr,
			Timeout: durationpb.New(2 * time.Second),
		},
	}
}

func TestDownstreamClient_Invoke(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotUserAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	c := NewDownstreamClient(newDownstreamConf(srv.URL), log.DefaultLogger)

	body, err := c.Invoke(context.Background(), []byte(`{"order_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"accepted"}`), body)
	assert.Equal(t, []byte(`{"order_id":42}`), gotBody)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "SoakGate/1.0", gotUserAgent)
}

func TestDownstreamClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := NewDownstreamClient(newDownstreamConf(srv.URL), log.DefaultLogger)

	_, err := c.Invoke(context.Background(), nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Equal(t, "slow down", statusErr.Body)
}

func TestDownstreamClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewDownstreamClient(newDownstreamConf(srv.URL), log.DefaultLogger)

	_, err := c.Invoke(context.Background(), nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestDownstreamClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewDownstreamClient(newDownstreamConf(srv.URL), log.DefaultLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, nil)
	assert.Error(t, err)
}

func TestDownstreamClient_EmptyAddr(t *testing.T) {
	c := NewDownstreamClient(&conf.Data{}, log.DefaultLogger)

	_, err := c.Invoke(context.Background(), nil)
	assert.Error(t, err)
}
