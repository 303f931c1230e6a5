package ppb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ppbverify-backend/lib/htmlutil"
	"ppbverify-backend/lib/retry"
	"ppbverify-backend/lib/telemetry"
	"ppbverify-backend/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/ppb")

const (
	searchPath = "/ajax/public"
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
)

// ErrDetailsBeforeSearch guards the protocol ordering, Step 2 depends
// on cookies and a candidate key that only exist after Step 1.
var ErrDetailsBeforeSearch = errors.New("fetch details requires a prior successful search in this session")

// the portal links each result row to its modal through an opaque
// base64-ish token in the rel attribute of the View Details anchor
var candidateKeyRegex = regexp.MustCompile(`rel='([^']+)'`)

var (
	rowStatusRegex = regexp.MustCompile(`(?i)Status:\s*([A-Za-z][A-Za-z ]*)`)
	rowDateRegex   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
)

// Client owns one cookie-bearing portal session. It is created once per
// engine and reused across all verification calls, never rebuilt
// mid-workflow.
type Client struct {
	Register Register
	BaseUrl  string
	Http     *resty.Client

	retry    retry.Policy
	searched atomic.Bool
}

type ClientOptions struct {
	BaseUrl string
	// per-request timeout, defaults to 30s
	Timeout time.Duration
	// retries after the first attempt, transient failures only
	MaxRetries int
	// initial retry backoff, defaults to 300ms
	RetryBackoff time.Duration
}

func NewClient(register Register, opts ClientOptions) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 300 * time.Millisecond
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "scrapers/ppb/http")

	return &Client{
		Register: register,
		BaseUrl:  opts.BaseUrl,
		Http:     client,
		retry: retry.Policy{
			MaxRetries: opts.MaxRetries,
			Backoff:    opts.RetryBackoff,
		},
	}, nil
}

func (c *Client) referer() string {
	return fmt.Sprintf("%s/LicenseStatus?register=%s", c.BaseUrl, c.Register.PortalTag)
}

// content negotiation profile of the Step-1 request, the portal rejects
// queries that don't look like its own XHR calls
func (c *Client) searchHeaders() map[string]string {
	accept := "application/json, text/javascript, */*; q=0.01"
	if c.Register.Individual {
		accept = "text/html, */*; q=0.01"
	}
	return map[string]string{
		"Accept":           accept,
		"Accept-Language":  "en-GB,en-US;q=0.9,en;q=0.8",
		"User-Agent":       userAgent,
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          c.referer(),
	}
}

// broader profile of the Step-2 request, the modal endpoint expects the
// security-context headers a browser would send
func (c *Client) detailsHeaders() map[string]string {
	return map[string]string{
		"Accept":             "text/html, */*; q=0.01",
		"Accept-Language":    "en-GB,en-US;q=0.9,en;q=0.8",
		"Connection":         "keep-alive",
		"Referer":            c.referer(),
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
		"User-Agent":         userAgent,
		"X-Requested-With":   "XMLHttpRequest",
		"sec-ch-ua":          `"Google Chrome";v="141", "Not-A-Brand";v="8", "Chromium";v="141"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
	}
}

// do sends one request under the retry policy. Transport failures and
// 429/5xx statuses retry, other 4xx statuses fail immediately.
func (c *Client) do(ctx context.Context, identifier string, step Step, send func() (*resty.Response, error)) (*resty.Response, error) {
	var res *resty.Response
	attempts := 0

	err := c.retry.Do(ctx, func() error {
		attempts++
		r, err := send()
		if err != nil {
			return err
		}
		status := r.StatusCode()
		if status == 429 || status >= 500 {
			return fmt.Errorf("portal returned status %d", status)
		}
		if status >= 400 {
			return retry.Permanent(fmt.Errorf("portal returned status %d", status))
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, &NetworkError{
			Identifier: identifier,
			Step:       step,
			Attempts:   attempts,
			Err:        err,
		}
	}
	return res, nil
}

// SearchResult carries the Step-2 token and, for individual registers,
// the preliminary fields of the result row. Detail fields take
// precedence over the preliminary ones.
type SearchResult struct {
	CandidateKey string

	Name          string
	LicenseNumber string
	Status        string
	ValidTill     string
}

// Search performs Step 1 against the register and extracts the
// candidate key required by Step 2.
func (c *Client) Search(ctx context.Context, identifier string) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "client:Search")
	defer span.End()

	slog.DebugContext(ctx, "searching portal", "register", c.Register.Kind, "identifier", identifier)

	var result SearchResult
	var err error
	if c.Register.Individual {
		result, err = c.searchIndividual(ctx, identifier)
	} else {
		result, err = c.searchFacility(ctx, identifier)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return SearchResult{}, err
	}

	c.searched.Store(true)
	slog.DebugContext(ctx, "search succeeded", "identifier", identifier)
	return result, nil
}

func (c *Client) searchFacility(ctx context.Context, identifier string) (SearchResult, error) {
	params := dataTablesQuery(identifier, timezone.Now().UnixMilli())

	res, err := c.do(ctx, identifier, StepSearch, func() (*resty.Response, error) {
		return c.Http.R().
			SetContext(ctx).
			SetHeaders(c.searchHeaders()).
			SetQueryParams(params).
			Get(searchPath)
	})
	if err != nil {
		return SearchResult{}, err
	}

	var body struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return SearchResult{}, &UpstreamFormatError{
			Identifier: identifier,
			Step:       StepSearch,
			Reason:     "search response is not the expected row JSON",
		}
	}
	if len(body.Data) == 0 {
		return SearchResult{}, &NotFoundError{Identifier: identifier}
	}

	// the details token lives in column 4 (the View Details cell)
	row := body.Data[0]
	if len(row) <= 4 {
		return SearchResult{}, &UpstreamFormatError{
			Identifier: identifier,
			Step:       StepSearch,
			Reason:     "result row has no details column",
		}
	}
	groups := candidateKeyRegex.FindStringSubmatch(row[4])
	if groups == nil {
		return SearchResult{}, &UpstreamFormatError{
			Identifier: identifier,
			Step:       StepSearch,
			Reason:     "result row is missing the details token",
		}
	}

	return SearchResult{CandidateKey: groups[1]}, nil
}

func (c *Client) searchIndividual(ctx context.Context, identifier string) (SearchResult, error) {
	res, err := c.do(ctx, identifier, StepSearch, func() (*resty.Response, error) {
		return c.Http.R().
			SetContext(ctx).
			SetHeaders(c.searchHeaders()).
			SetFormData(map[string]string{
				"search_register": "1",
				"cadre_id":        c.Register.CadreID,
				"search_text":     identifier,
			}).
			Post(searchPath)
	})
	if err != nil {
		return SearchResult{}, err
	}

	body := res.String()
	if bytes.Contains(res.Body(), []byte("No records found")) {
		return SearchResult{}, &NotFoundError{Identifier: identifier}
	}

	groups := candidateKeyRegex.FindStringSubmatch(body)
	if groups == nil {
		// a well-formed page without a details anchor means the portal
		// has no matching row
		return SearchResult{}, &NotFoundError{Identifier: identifier}
	}
	result := SearchResult{CandidateKey: groups[1]}

	// preliminary row fields, merged under the Step-2 details later
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(body))
	if err == nil {
		cells := htmlutil.CellTexts(doc.Find("td"))
		if len(cells) >= 3 {
			result.Name = cells[0]
			result.LicenseNumber = cells[1]
			if m := rowStatusRegex.FindStringSubmatch(cells[2]); m != nil {
				result.Status = htmlutil.CollapseWhitespace(m[1])
			}
			if m := rowDateRegex.FindStringSubmatch(cells[2]); m != nil {
				result.ValidTill = m[1]
			}
		}
	}

	return result, nil
}

// FetchDetails performs Step 2, reusing the cookies Step 1 established.
// It walks through progressively simpler header profiles because the
// portal intermittently rejects the full browser profile.
func (c *Client) FetchDetails(ctx context.Context, identifier, candidateKey string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchDetails")
	defer span.End()

	if !c.searched.Load() {
		span.SetStatus(codes.Error, ErrDetailsBeforeSearch.Error())
		return "", ErrDetailsBeforeSearch
	}

	full := c.detailsHeaders()
	relaxed := map[string]string{}
	for k, v := range full {
		relaxed[k] = v
	}
	relaxed["Accept"] = "*/*"
	minimal := map[string]string{
		"User-Agent":       userAgent,
		"Referer":          c.referer(),
		"X-Requested-With": "XMLHttpRequest",
	}

	var lastErr error
	for i, headers := range []map[string]string{full, relaxed, minimal} {
		slog.DebugContext(ctx, "fetching details", "identifier", identifier, "profile", i+1)

		res, err := c.do(ctx, identifier, StepDetails, func() (*resty.Response, error) {
			return c.Http.R().
				SetContext(ctx).
				SetHeaders(headers).
				SetQueryParams(map[string]string{
					"search_details": c.Register.DetailsQuery,
					"id":             candidateKey,
				}).
				Get(searchPath)
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		html := res.String()
		if c.validDetails(html) {
			span.SetStatus(codes.Ok, fmt.Sprintf("details retrieved (profile %d)", i+1))
			return html, nil
		}
		slog.WarnContext(ctx, "details profile produced unusable body", "identifier", identifier, "profile", i+1)
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "all details profiles failed")
		return "", lastErr
	}

	err := &UpstreamFormatError{
		Identifier: identifier,
		Step:       StepDetails,
		Reason:     "no header profile produced a recognizable details body",
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "details body unrecognizable")
	return "", err
}

// validDetails rejects bodies that are missing the key-bearing region,
// the facility modal always labels its registration and license rows.
func (c *Client) validDetails(html string) bool {
	if c.Register.Individual {
		return len(html) > 0
	}
	for _, label := range []string{
		"Facility Registration Number:",
		"License Number:",
		"Licence Status:",
	} {
		if !containsFold(html, label) {
			return false
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func dataTablesQuery(term string, nowMs int64) map[string]string {
	q := map[string]string{
		"fetch":            "facilities",
		"ftype":            "",
		"draw":             "1",
		"order[0][column]": "0",
		"order[0][dir]":    "asc",
		"start":            "0",
		"length":           "10",
		"search[value]":    term,
		"search[regex]":    "false",
		"_":                strconv.FormatInt(nowMs, 10),
	}
	for i := 0; i < 5; i++ {
		col := fmt.Sprintf("columns[%d]", i)
		q[col+"[data]"] = strconv.Itoa(i)
		q[col+"[name]"] = ""
		q[col+"[searchable]"] = "true"
		q[col+"[orderable]"] = "true"
		q[col+"[search][value]"] = ""
		q[col+"[search][regex]"] = "false"
	}
	return q
}
