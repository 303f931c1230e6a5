package ppb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ppbverify-backend/lib/scrapers/ppb/ppbtest"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, register Register, portal *ppbtest.Portal) *Client {
	t.Helper()
	client, err := NewClient(register, ClientOptions{
		BaseUrl:      portal.URL(),
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestFacilitySearchExtractsCandidateKey(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber: "PPB/C/9222",
		Name:          "GOOD HEALTH CHEMIST",
		Status:        "ACTIVE",
	})

	client := testClient(t, Facilities, portal)
	result, err := client.Search(context.Background(), "PPB/C/9222")
	require.NoError(t, err)
	require.Equal(t, ppbtest.Key("PPB/C/9222"), result.CandidateKey)
}

func TestFacilitySearchNotFound(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()

	client := testClient(t, Facilities, portal)
	_, err := client.Search(context.Background(), "PPB/C/0000")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "PPB/C/0000", notFound.Identifier)
}

func TestIndividualSearchParsesPreliminaryRow(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddIndividual(ppbtest.Individual{
		LicenseNumber: "P2025D00463",
		Name:          "JOHN OTIENO",
		CadreID:       "2",
		Status:        "Active",
		ValidTill:     "2025-12-31",
	})

	client := testClient(t, Pharmacists, portal)
	result, err := client.Search(context.Background(), "P2025D00463")
	require.NoError(t, err)
	require.Equal(t, ppbtest.Key("P2025D00463"), result.CandidateKey)
	require.Equal(t, "JOHN OTIENO", result.Name)
	require.Equal(t, "P2025D00463", result.LicenseNumber)
	require.Equal(t, "Active", result.Status)
	require.Equal(t, "2025-12-31", result.ValidTill)
}

func TestIndividualSearchNoRecords(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()

	client := testClient(t, Pharmtechs, portal)
	_, err := client.Search(context.Background(), "PT2025D05614")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{LicenseNumber: "PPB/C/9222", Name: "GOOD HEALTH CHEMIST"})
	portal.FailNext(1)

	client := testClient(t, Facilities, portal)
	result, err := client.Search(context.Background(), "PPB/C/9222")
	require.NoError(t, err)
	require.NotEmpty(t, result.CandidateKey)
	require.Equal(t, int64(2), portal.Requests())
}

func TestSearchExhaustsRetries(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.FailNext(10)

	client := testClient(t, Facilities, portal)
	_, err := client.Search(context.Background(), "PPB/C/9222")
	var network *NetworkError
	require.ErrorAs(t, err, &network)
	require.Equal(t, StepSearch, network.Step)
	require.Equal(t, 3, network.Attempts)
	require.Equal(t, int64(3), portal.Requests())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(Facilities, ClientOptions{
		BaseUrl:      server.URL,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "PPB/C/9222")
	var network *NetworkError
	require.ErrorAs(t, err, &network)
	require.Equal(t, 1, attempts)
}

func TestDetailsRequiresPriorSearch(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()

	client := testClient(t, Facilities, portal)
	_, err := client.FetchDetails(context.Background(), "PPB/C/9222", ppbtest.Key("PPB/C/9222"))
	require.ErrorIs(t, err, ErrDetailsBeforeSearch)
	require.Zero(t, portal.Requests())
}

func TestSearchThenDetailsRoundTrip(t *testing.T) {
	portal := ppbtest.New()
	defer portal.Close()
	portal.AddFacility(ppbtest.Facility{
		LicenseNumber:      "PPB/C/9222",
		Name:               "GOOD HEALTH CHEMIST",
		RegistrationNumber: "PPB/REG/2018/100",
		Status:             "ACTIVE",
		ValidTill:          "2025-12-31",
	})

	client := testClient(t, Facilities, portal)
	result, err := client.Search(context.Background(), "PPB/C/9222")
	require.NoError(t, err)

	body, err := client.FetchDetails(context.Background(), "PPB/C/9222", result.CandidateKey)
	require.NoError(t, err)
	require.Contains(t, body, "License Number: PPB/C/9222")
	require.Contains(t, body, "Licence Status: ACTIVE")
	require.Equal(t, int64(1), portal.DetailRequests())
}

func TestStepHeaderProfilesDiffer(t *testing.T) {
	type seen struct{ accept, requestedWith, secFetchMode string }
	var search, details seen

	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/public", func(w http.ResponseWriter, r *http.Request) {
		s := seen{
			accept:        r.Header.Get("Accept"),
			requestedWith: r.Header.Get("X-Requested-With"),
			secFetchMode:  r.Header.Get("Sec-Fetch-Mode"),
		}
		if r.URL.Query().Get("search_details") != "" {
			details = s
			w.Write([]byte("<div>Facility Registration Number: x License Number: y Licence Status: z</div>"))
			return
		}
		search = s
		w.Write([]byte(`{"data": [["a","b","c","d","<a rel='abc'>v</a>"]]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(Facilities, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	result, err := client.Search(context.Background(), "PPB/C/9222")
	require.NoError(t, err)
	_, err = client.FetchDetails(context.Background(), "PPB/C/9222", result.CandidateKey)
	require.NoError(t, err)

	require.Equal(t, "application/json, text/javascript, */*; q=0.01", search.accept)
	require.Equal(t, "XMLHttpRequest", search.requestedWith)
	require.Empty(t, search.secFetchMode)

	require.Equal(t, "text/html, */*; q=0.01", details.accept)
	require.Equal(t, "XMLHttpRequest", details.requestedWith)
	require.Equal(t, "cors", details.secFetchMode)
}

func TestDetailsFallsBackAcrossHeaderProfiles(t *testing.T) {
	rejected := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/public", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search_details") == "" {
			w.Write([]byte(`{"data": [["a","b","c","d","<a rel='abc'>v</a>"]]}`))
			return
		}
		// reject the full browser profile, accept the relaxed one
		if r.Header.Get("Accept") != "*/*" {
			rejected++
			w.Write([]byte("<div>Not available</div>"))
			return
		}
		w.Write([]byte("<div>Facility Registration Number: x License Number: y Licence Status: z</div>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(Facilities, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	result, err := client.Search(context.Background(), "PPB/C/9222")
	require.NoError(t, err)

	body, err := client.FetchDetails(context.Background(), "PPB/C/9222", result.CandidateKey)
	require.NoError(t, err)
	require.Contains(t, body, "Licence Status")
	require.Equal(t, 1, rejected)
}
