// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	result SweepResult
	err    error
	called bool
}

func (s *stubSweeper) Run(ctx context.Context) (SweepResult, error) {
	s.called = true
	return s.result, s.err
}

func TestHandleHealthz_AlwaysPublic(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSweep_RequiresValidToken(t *testing.T) {
	ti, err := NewTokenIssuer("s3cret", time.Minute)
	require.NoError(t, err)
	sweeper := &stubSweeper{result: SweepResult{ProjectsSwept: 2}}
	srv := New(Config{Issuer: ti, Sweeper: sweeper})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/sweep", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.False(t, sweeper.called)

	token, err := ti.Mint("test")
	require.NoError(t, err)
	req2, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/sweep", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	require.True(t, sweeper.called)
}

func TestHandleSweep_WithoutIssuerIsUnavailable(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/sweep", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
