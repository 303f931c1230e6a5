package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/lib/scrapers/ppb/ppbtest"
	"ppbverify-backend/services/verify"

	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*ppbtest.Portal, *httptest.Server) {
	t.Helper()

	portal := ppbtest.New()
	t.Cleanup(portal.Close)

	opts := verify.Options{
		BaseUrl:        portal.URL(),
		RequestTimeout: 5 * time.Second,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
		RateLimitDelay: time.Millisecond,
		CallBudget:     10 * time.Second,
		CacheEnabled:   true,
		CacheBackend:   "memory",
		CacheTTL:       time.Hour,
		CacheMaxSize:   100,
	}

	var services []*verify.Service
	for _, register := range []ppb.Register{ppb.Facilities, ppb.Pharmacists, ppb.Pharmtechs} {
		service, err := verify.New(register, opts)
		require.NoError(t, err)
		services = append(services, service)
	}

	srv := httptest.NewServer(New(services...).Handler())
	t.Cleanup(srv.Close)
	return portal, srv
}

func postVerify(t *testing.T, url, register, license string) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"license_number": license})
	require.NoError(t, err)

	res, err := http.Post(url+"/"+register+"/verify", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res, body
}

func TestVerifyEndpoint(t *testing.T) {
	portal, srv := testServer(t)
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber: "PPB/C/9222",
		Name:          "GOOD HEALTH CHEMIST",
		Status:        "ACTIVE",
		ValidTill:     "2025-12-31",
	})

	res, body := postVerify(t, srv.URL, "facilities", "PPB/C/9222")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, "PPB/C/9222", body["license_number"])
	require.Equal(t, false, body["from_cache"])

	data := body["data"].(map[string]any)
	require.Equal(t, "GOOD HEALTH CHEMIST", data["facility_name"])
	require.Equal(t, "ACTIVE", data["status"])

	res, body = postVerify(t, srv.URL, "facilities", "PPB/C/9222")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, body["from_cache"])
}

func TestVerifyErrorStatuses(t *testing.T) {
	portal, srv := testServer(t)
	_ = portal

	res, body := postVerify(t, srv.URL, "pharmacists", "INVALID123")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, false, body["success"])
	require.Contains(t, body["message"], "INVALID123")

	res, body = postVerify(t, srv.URL, "pharmacists", "P2025D00463")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Contains(t, body["message"], "not found")
}

func TestVerifyRejectsBadRequests(t *testing.T) {
	_, srv := testServer(t)

	res, err := http.Post(srv.URL+"/facilities/verify", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Post(srv.URL+"/facilities/verify", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUnknownRegister(t *testing.T) {
	_, srv := testServer(t)

	res, body := postVerify(t, srv.URL, "dentists", "X1")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Contains(t, body["message"], "unknown register")
}

func TestCacheEndpoints(t *testing.T) {
	portal, srv := testServer(t)
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber: "PPB/C/9222",
		Name:          "GOOD HEALTH CHEMIST",
		Status:        "ACTIVE",
	})

	_, _ = postVerify(t, srv.URL, "facilities", "PPB/C/9222")
	_, _ = postVerify(t, srv.URL, "facilities", "PPB/C/9222")

	res, err := http.Get(srv.URL + "/facilities/cache/stats")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&stats))
	require.Equal(t, true, stats["enabled"])
	require.Equal(t, "memory", stats["backend"])
	require.Equal(t, float64(1), stats["hits"])
	require.Equal(t, float64(1), stats["size"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/facilities/cache", nil)
	require.NoError(t, err)
	clearRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	clearRes.Body.Close()
	require.Equal(t, http.StatusOK, clearRes.StatusCode)

	after, body := postVerify(t, srv.URL, "facilities", "PPB/C/9222")
	require.Equal(t, http.StatusOK, after.StatusCode)
	require.Equal(t, false, body["from_cache"])
}

func TestHealthAndIndex(t *testing.T) {
	_, srv := testServer(t)

	for _, path := range []string{"/health", "/ready", "/"} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}
