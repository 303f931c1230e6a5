// Package ppbtest runs an in-process imitation of the registry portal
// for tests. It speaks the same two-step protocol: a DataTables-style
// facility search, a form-post individual search, and a details
// endpoint keyed by the token embedded in search results.
package ppbtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

type Facility struct {
	LicenseNumber      string
	Name               string
	RegistrationNumber string
	Ownership          string
	LicenseType        string
	EstablishmentYear  string
	Street             string
	County             string
	Status             string
	ValidTill          string

	SuperintendentName       string
	SuperintendentCadre      string
	SuperintendentEnrollment string
}

type Individual struct {
	LicenseNumber string
	Name          string
	CadreID       string
	Status        string
	ValidTill     string
	PhotoPath     string
}

type Portal struct {
	Server *httptest.Server

	mu          sync.Mutex
	facilities  map[string]Facility
	individuals map[string]Individual

	requests       atomic.Int64
	searchRequests atomic.Int64
	detailRequests atomic.Int64
	failNext       atomic.Int64
}

func New() *Portal {
	p := &Portal{
		facilities:  map[string]Facility{},
		individuals: map[string]Individual{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/public", p.handle)
	p.Server = httptest.NewServer(mux)
	return p
}

func (p *Portal) Close()      { p.Server.Close() }
func (p *Portal) URL() string { return p.Server.URL }

func (p *Portal) AddFacility(f Facility) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facilities[strings.ToUpper(f.LicenseNumber)] = f
}

func (p *Portal) AddIndividual(i Individual) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.individuals[strings.ToUpper(i.LicenseNumber)] = i
}

// FailNext makes the portal answer the next n requests with a 500.
func (p *Portal) FailNext(n int64) { p.failNext.Store(n) }

func (p *Portal) Requests() int64       { return p.requests.Load() }
func (p *Portal) SearchRequests() int64 { return p.searchRequests.Load() }
func (p *Portal) DetailRequests() int64 { return p.detailRequests.Load() }

// Key returns the details token the portal embeds for an identifier.
func Key(identifier string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.ToUpper(identifier)))
}

func (p *Portal) handle(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)
	if p.failNext.Load() > 0 {
		p.failNext.Add(-1)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodPost {
		p.searchRequests.Add(1)
		p.handleIndividualSearch(w, r)
		return
	}

	query := r.URL.Query()
	if query.Get("search_details") != "" {
		p.detailRequests.Add(1)
		p.handleDetails(w, query.Get("search_details"), query.Get("id"))
		return
	}
	p.searchRequests.Add(1)
	p.handleFacilitySearch(w, query.Get("search[value]"))
}

func (p *Portal) handleFacilitySearch(w http.ResponseWriter, term string) {
	term = strings.ToUpper(strings.TrimSpace(term))

	p.mu.Lock()
	defer p.mu.Unlock()

	var rows [][]string
	for license, f := range p.facilities {
		if term == "" || strings.Contains(license, term) || strings.Contains(strings.ToUpper(f.Name), term) {
			rows = append(rows, []string{
				f.Name,
				f.RegistrationNumber,
				f.County,
				f.Status,
				fmt.Sprintf("<button rel='%s' class='btn view-details'>View Details</button>", Key(license)),
			})
		}
	}
	if rows == nil {
		rows = [][]string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": rows})
}

func (p *Portal) handleIndividualSearch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	term := strings.ToUpper(strings.TrimSpace(r.PostFormValue("search_text")))
	cadre := r.PostFormValue("cadre_id")

	p.mu.Lock()
	defer p.mu.Unlock()

	person, ok := p.individuals[term]
	if !ok || person.CadreID != cadre {
		fmt.Fprint(w, "<div>No records found</div>")
		return
	}

	fmt.Fprintf(w,
		`<tr><td>%s</td><td>%s</td><td>Status: %s &nbsp; %s <a href="#" rel='%s'>View Details</a></td></tr>`,
		person.Name, person.LicenseNumber, person.Status, person.ValidTill, Key(person.LicenseNumber))
}

func (p *Portal) handleDetails(w http.ResponseWriter, kind, id string) {
	decoded, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	license := string(decoded)

	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == "facility" {
		f, ok := p.facilities[license]
		if !ok {
			fmt.Fprint(w, "<div>Not available</div>")
			return
		}
		fmt.Fprint(w, FacilityDetailHTML(f))
		return
	}

	person, ok := p.individuals[license]
	if !ok {
		fmt.Fprint(w, "")
		return
	}
	fmt.Fprint(w, IndividualDetailHTML(person))
}

// FacilityDetailHTML renders the facility modal in the portal's richest
// shape, superintendent hidden in a markup comment included.
func FacilityDetailHTML(f Facility) string {
	var b strings.Builder
	b.WriteString(`<div class="modal-body">`)
	fmt.Fprintf(&b, `<b style="font-size:20px;"> %s </b><br/>`, f.Name)
	fmt.Fprintf(&b, `<a class="list-group-item">Facility Registration Number: %s</a>`, f.RegistrationNumber)
	fmt.Fprintf(&b, `<a class="list-group-item">License Number: %s</a>`, f.LicenseNumber)
	fmt.Fprintf(&b, `<a class="list-group-item">Ownership : %s</a>`, f.Ownership)
	fmt.Fprintf(&b, `<a class="list-group-item">License Type: %s</a>`, f.LicenseType)
	fmt.Fprintf(&b, `<a class="list-group-item">Establishment Year : %s</a>`, f.EstablishmentYear)
	fmt.Fprintf(&b, `<a class="list-group-item">Street: %s</a>`, f.Street)
	fmt.Fprintf(&b, `<a class="list-group-item">County : %s</a>`, f.County)
	if f.SuperintendentName != "" {
		fmt.Fprintf(&b,
			`<!-- <a class="list-group-item text-boldest" > Superintendent : %s <br> Cadre: %s <br> Enrollment Number: %s </a> -->`,
			f.SuperintendentName, f.SuperintendentCadre, f.SuperintendentEnrollment)
	}
	fmt.Fprintf(&b, `<span class="label">Licence Status: %s</span>`, f.Status)
	fmt.Fprintf(&b, `<span class="label">Valid Till: %s</span>`, f.ValidTill)
	b.WriteString(`</div>`)
	return b.String()
}

// IndividualDetailHTML renders the practitioner modal.
func IndividualDetailHTML(i Individual) string {
	var b strings.Builder
	b.WriteString(`<div class="modal-body">`)
	if i.PhotoPath != "" {
		fmt.Fprintf(&b, `<img src="%s" width="200" />`, i.PhotoPath)
	}
	fmt.Fprintf(&b, `<b style="font-size:30px;"> %s </b><br/>`, i.Name)
	fmt.Fprintf(&b, `<a class="list-group-item">Practice License Number: %s</a>`, i.LicenseNumber)
	fmt.Fprintf(&b, `<span class="label label-success">Status: %s</span>`, i.Status)
	fmt.Fprintf(&b, `<span class="label">Valid Till: %s</span>`, i.ValidTill)
	b.WriteString(`</div>`)
	return b.String()
}
