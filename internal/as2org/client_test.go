package as2org_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func pageServer(t *testing.T, pages [][]map[string]any, hasNext func(page int) bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 || page > len(pages) {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":     pages[page-1],
			"pageInfo": map[string]any{"hasNextPage": hasNext(page)},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestAS2Org_GetAll(t *testing.T) {
	t.Parallel()

	pages := [][]map[string]any{
		{
			{"asn": "15169", "asnName": "GOOGLE", "orgName": "Google LLC"},
			{"asn": 13335, "asnName": "CLOUDFLARENET", "orgName": "Cloudflare, Inc."},
		},
		{
			{"asn": "3356", "asnName": "LEVEL3", "orgName": "Level 3 Parent, LLC"},
		},
	}
	srv, requests := pageServer(t, pages, func(page int) bool { return true })

	client, err := as2org.NewClient(as2org.Config{Logger: logger, BaseURL: srv.URL + "/as2org/v1/asns/", PageSize: 2})
	require.NoError(t, err)

	got, err := client.GetAll(context.Background())
	require.NoError(t, err)

	// The short second page ends paging even though hasNextPage is set.
	require.Equal(t, int64(2), requests.Load())
	want := map[string]as2org.Info{
		"15169": {ASNName: "GOOGLE", OrgName: "Google LLC"},
		"13335": {ASNName: "CLOUDFLARENET", OrgName: "Cloudflare, Inc."},
		"3356":  {ASNName: "LEVEL3", OrgName: "Level 3 Parent, LLC"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected asn info (-want +got):\n%s", diff)
	}
}

func TestAS2Org_GetAll_StopsWithoutNextPage(t *testing.T) {
	t.Parallel()

	pages := [][]map[string]any{
		{{"asn": "1", "asnName": "A", "orgName": "A Org"}},
		{{"asn": "2", "asnName": "B", "orgName": "B Org"}},
	}
	srv, requests := pageServer(t, pages, func(page int) bool { return false })

	client, err := as2org.NewClient(as2org.Config{Logger: logger, BaseURL: srv.URL, PageSize: 1})
	require.NoError(t, err)

	got, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), requests.Load())
	require.Len(t, got, 1)
}

func TestAS2Org_GetPage_Query(t *testing.T) {
	t.Parallel()

	var gotURL string
	client, err := as2org.NewClient(as2org.Config{
		Logger: logger,
		HTTPClient: &mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			gotURL = req.URL.String()
			rec := httptest.NewRecorder()
			_, _ = rec.WriteString(`{"data": [], "pageInfo": {"hasNextPage": false}}`)
			return rec.Result(), nil
		}},
	})
	require.NoError(t, err)

	_, err = client.GetPage(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, as2org.DefaultBaseURL+"?page=3&perpage=4000", gotURL)
}

func TestAS2Org_Errors(t *testing.T) {
	t.Parallel()

	errTransport := errors.New("connection reset")
	tests := []struct {
		name    string
		do      func(req *http.Request) (*http.Response, error)
		wantErr string
	}{
		{
			name:    "transport error",
			do:      func(*http.Request) (*http.Response, error) { return nil, errTransport },
			wantErr: "connection reset",
		},
		{
			name: "non-200 status",
			do: func(*http.Request) (*http.Response, error) {
				rec := httptest.NewRecorder()
				rec.WriteHeader(http.StatusBadGateway)
				return rec.Result(), nil
			},
			wantErr: "status: 502",
		},
		{
			name: "malformed body",
			do: func(*http.Request) (*http.Response, error) {
				rec := httptest.NewRecorder()
				_, _ = rec.WriteString(`{"data": [`)
				return rec.Result(), nil
			},
			wantErr: "failed to decode response",
		},
		{
			name: "invalid asn",
			do: func(*http.Request) (*http.Response, error) {
				rec := httptest.NewRecorder()
				_, _ = rec.WriteString(`{"data": [{"asn": 1.5}], "pageInfo": {"hasNextPage": false}}`)
				return rec.Result(), nil
			},
			wantErr: "invalid asn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls int
			client, err := as2org.NewClient(as2org.Config{
				Logger: logger,
				HTTPClient: &mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
					calls++
					return tt.do(req)
				}},
			})
			require.NoError(t, err)

			got, err := client.GetAll(context.Background())
			require.ErrorContains(t, err, tt.wantErr)
			require.Nil(t, got)
			require.Equal(t, 1, calls, "no retries")
		})
	}
}

func TestAS2Org_ASN_Unmarshal(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]as2org.ASN{
		`"15169"`: "15169",
		`15169`:   "15169",
		`0`:       "0",
	} {
		var a as2org.ASN
		require.NoError(t, json.Unmarshal([]byte(input), &a), input)
		require.Equal(t, want, a, input)
	}

	var a as2org.ASN
	require.Error(t, json.Unmarshal([]byte(`-1`), &a))
	require.Error(t, json.Unmarshal([]byte(`true`), &a))
	require.Error(t, json.Unmarshal([]byte(fmt.Sprint(uint64(1)<<33)), &a))
}
