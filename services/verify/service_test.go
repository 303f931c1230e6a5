package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/lib/scrapers/ppb/ppbtest"

	"github.com/stretchr/testify/require"
)

func testOptions(baseUrl string) Options {
	return Options{
		BaseUrl:        baseUrl,
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
}

func TestVerifyFacilityEndToEnd(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber:            "PPB/C/9222",
		Name:                     "GOOD HEALTH CHEMIST",
		RegistrationNumber:       "PPB/REG/2018/100",
		Ownership:                "LIMITED COMPANY",
		County:                   "NAIROBI",
		Status:                   "ACTIVE",
		ValidTill:                "2025-12-31",
		SuperintendentName:       "JANE WANJIKU",
		SuperintendentCadre:      "Pharmacist",
		SuperintendentEnrollment: "E1234",
	})

	service, err := New(ppb.Facilities, testOptions(portal.URL()))
	require.NoError(t, err)

	result, err := service.Verify(context.Background(), "ppb/c/9222", true)
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, "PPB/C/9222", result.Identifier)
	require.Equal(t, "GOOD HEALTH CHEMIST", result.Record.FacilityName)
	require.Equal(t, "ACTIVE", result.Record.Status)
	require.Equal(t, "2025-12-31", result.Record.ValidTill)
	require.NotEmpty(t, result.Record.VerifiedAt)
	require.NotNil(t, result.Record.Superintendent)
	require.Equal(t, "JANE WANJIKU", result.Record.Superintendent.Name)

	requestsAfterFirst := portal.Requests()

	cached, err := service.Verify(context.Background(), "PPB/C/9222", true)
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Equal(t, result.Record.FacilityName, cached.Record.FacilityName)
	require.Equal(t, requestsAfterFirst, portal.Requests(), "cache hit must not touch the portal")
}

func TestVerifyPharmacistMergesPreliminaryRow(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddIndividual(ppbtest.Individual{
		LicenseNumber: "P2025D00463",
		Name:          "JOHN OTIENO",
		CadreID:       "2",
		Status:        "Active",
		ValidTill:     "2025-12-31",
		PhotoPath:     "/photos/463.jpg",
	})

	service, err := New(ppb.Pharmacists, testOptions(portal.URL()))
	require.NoError(t, err)

	result, err := service.Verify(context.Background(), "P2025D00463", true)
	require.NoError(t, err)
	require.Equal(t, "JOHN OTIENO", result.Record.FullName)
	require.Equal(t, "P2025D00463", result.Record.LicenseNumber)
	require.Equal(t, "Active", result.Record.Status)
	require.Equal(t, "2025-12-31", result.Record.ValidTill)
	require.Equal(t, "/photos/463.jpg", result.Record.PhotoURL)
}

func TestVerifyWellFormedUnknownLicense(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()

	register := ppb.Pharmtechs
	register.Format = regexp.MustCompile(`(?i)^PT\d{8}$`)

	service, err := New(register, testOptions(portal.URL()))
	require.NoError(t, err)

	_, err = service.Verify(context.Background(), "PT99999999", true)
	var notFound *ppb.NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "PT99999999", notFound.Identifier)
	require.Contains(t, err.Error(), "PT99999999")
}

func TestVerifyInvalidFormatMakesNoRequests(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()

	service, err := New(ppb.Pharmacists, testOptions(portal.URL()))
	require.NoError(t, err)

	_, err = service.Verify(context.Background(), "INVALID123", true)
	var invalid *ppb.InvalidFormatError
	require.ErrorAs(t, err, &invalid)
	require.Zero(t, portal.Requests())
	require.Zero(t, service.CacheStats(context.Background()).TotalRequests)
}

func TestVerifyBypassingCacheStillStoresResult(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber: "PPB/C/9222",
		Name:          "GOOD HEALTH CHEMIST",
		Status:        "ACTIVE",
	})

	service, err := New(ppb.Facilities, testOptions(portal.URL()))
	require.NoError(t, err)

	_, err = service.Verify(context.Background(), "PPB/C/9222", false)
	require.NoError(t, err)
	_, err = service.Verify(context.Background(), "PPB/C/9222", false)
	require.NoError(t, err)
	require.Equal(t, int64(2), portal.SearchRequests(), "bypass must hit the portal every time")

	cached, err := service.Verify(context.Background(), "PPB/C/9222", true)
	require.NoError(t, err)
	require.True(t, cached.FromCache)
}

func TestVerifyTimesOutAgainstSlowPortal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	opts := testOptions(server.URL)
	opts.CallBudget = 50 * time.Millisecond
	opts.MaxRetries = 1

	service, err := New(ppb.Facilities, opts)
	require.NoError(t, err)

	_, err = service.Verify(context.Background(), "PPB/C/9222", true)
	var timeout *ppb.TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, "PPB/C/9222", timeout.Identifier)
	require.Equal(t, 50*time.Millisecond, timeout.Budget)
}

func TestCacheStatsReport(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber: "PPB/C/9222",
		Name:          "GOOD HEALTH CHEMIST",
		Status:        "ACTIVE",
	})

	service, err := New(ppb.Facilities, testOptions(portal.URL()))
	require.NoError(t, err)

	_, err = service.Verify(context.Background(), "PPB/C/9222", true)
	require.NoError(t, err)
	_, err = service.Verify(context.Background(), "PPB/C/9222", true)
	require.NoError(t, err)

	report := service.CacheStats(context.Background())
	require.True(t, report.Enabled)
	require.Equal(t, "memory", report.Backend)
	require.Equal(t, uint64(1), report.Hits)
	require.Equal(t, uint64(1), report.Misses)
	require.Equal(t, uint64(2), report.TotalRequests)
	require.Equal(t, 0.5, report.HitRate)
	require.Equal(t, 1, report.Size)

	service.ClearCache(context.Background())
	require.Equal(t, 0, service.CacheStats(context.Background()).Size)
}

func TestCacheDisabledReport(t *testing.T) {
	opts := testOptions("http://localhost:1")
	opts.CacheEnabled = false

	service, err := New(ppb.Facilities, opts)
	require.NoError(t, err)

	report := service.CacheStats(context.Background())
	require.False(t, report.Enabled)
	require.Zero(t, report.TotalRequests)
}
