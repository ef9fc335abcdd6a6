// Package edupagetest provides an in-process fake of the edupage web pages the
// scraper talks to, for use in tests.
package edupagetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const (
	csrfToken  = "csrf-f00ba4"
	cookieName = "PHPSESSID"
)

// Mutation is a meal change the fake provider received.
type Mutation struct {
	BoarderId string
	Date      string
	Slot      string
	Choice    string
	GsecHash  string
}

// Provider is a fake edupage school, the exported fields may be changed
// between requests to alter its behavior.
type Provider struct {
	Server *httptest.Server

	mutex sync.Mutex

	Subdomain string
	Username  string
	Password  string
	BoarderId string
	GsecHash  string

	// OmitUserHome makes the login response lack the account object.
	OmitUserHome bool
	// OmitCsrfToken makes the login page lack the anti-forgery token.
	OmitCsrfToken bool
	// RejectOrders makes every mutation fail with this message.
	RejectOrders string
	// PlainAck makes mutations answer with html instead of JSON.
	PlainAck bool
	// ClosedDays are dates (YYYY-MM-DD) where the kitchen doesn't cook.
	ClosedDays map[string]bool

	sessions     map[string]bool
	nextSession  int
	choices      map[string]string
	mutations    []Mutation
	weekRequests int
}

func NewProvider() *Provider {
	p := &Provider{
		Subdomain:  "myschool",
		Username:   "student",
		Password:   "hunter2",
		BoarderId:  "12345",
		GsecHash:   "9f8e7d",
		ClosedDays: map[string]bool{},
		sessions:   map[string]bool{},
		choices:    map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/", p.handleLoginPage)
	mux.HandleFunc("/login/edubarLogin.php", p.handleLogin)
	mux.HandleFunc("/menu/", p.handleMenu)
	p.Server = httptest.NewServer(mux)

	return p
}

// URL is the base url of the fake, every subdomain points to it.
func (p *Provider) URL() string {
	return p.Server.URL
}

func (p *Provider) Close() {
	p.Server.Close()
}

// ExpireSessions forgets every session that was handed out.
func (p *Provider) ExpireSessions() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sessions = map[string]bool{}
}

// SetChoice sets the choice code stored for a date.
func (p *Provider) SetChoice(date, choice string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.choices[date] = choice
}

func (p *Provider) Mutations() []Mutation {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Mutation(nil), p.mutations...)
}

func (p *Provider) WeekRequests() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.weekRequests
}

func (p *Provider) loginPage() string {
	token := fmt.Sprintf(`"csrftoken":"%s",`, csrfToken)
	if p.OmitCsrfToken {
		token = ""
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><script>ASC.req_props = {"lang":"sk",%s"school":"%s"};</script></head>
<body><form action="/login/edubarLogin.php" method="post"></form></body></html>`, token, p.Subdomain)
}

func (p *Provider) hasSession(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	return p.sessions[cookie.Value]
}

func (p *Provider) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, p.loginPage())
}

func (p *Provider) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("csrfauth") != csrfToken ||
		r.PostForm.Get("username") != p.Username ||
		r.PostForm.Get("password") != p.Password {
		http.Redirect(w, r, "/login/?cmd=MainLogin&bad=1", http.StatusFound)
		return
	}

	p.nextSession++
	session := fmt.Sprintf("session-%d", p.nextSession)
	p.sessions[session] = true
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: session, Path: "/"})

	var body strings.Builder
	fmt.Fprintf(&body, "<!-- edupage %s -->\n<!DOCTYPE html>\n<html><head><script>\n", p.Subdomain)
	if !p.OmitUserHome {
		fmt.Fprintf(&body, "\tuserhome({\"userid\":\"Student%s\",\"edupage\":\"%s\"});\r\n", p.BoarderId, p.Subdomain)
	}
	if p.GsecHash != "" {
		fmt.Fprintf(&body, "\tASC.gsechash=\"%s\";\n", p.GsecHash)
	}
	body.WriteString("</script></head><body></body></html>")

	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, body.String())
}

func (p *Provider) handleMenu(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasSession(r) {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		fmt.Fprint(w, p.loginPage())
		return
	}

	switch r.Method {
	case http.MethodGet:
		p.serveWeek(w, r)
	case http.MethodPost:
		p.serveMutation(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (p *Provider) evidence(date string) map[string]any {
	choice, ok := p.choices[date]
	if !ok {
		return nil
	}
	switch {
	case choice == "AX":
		return map[string]any{"stav": "X", "obj": nil}
	case choice >= "A" && choice <= "D":
		return map[string]any{"stav": choice, "obj": "A"}
	default:
		// the provider reports some choices as "variable" with the letter in obj
		return map[string]any{"stav": "V", "obj": choice}
	}
}

func (p *Provider) serveWeek(w http.ResponseWriter, r *http.Request) {
	p.weekRequests++

	date, err := time.Parse("20060102", r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "bad date", http.StatusBadRequest)
		return
	}
	monday := date.AddDate(0, 0, -((int(date.Weekday()) + 6) % 7))

	menu := map[string]any{
		"addInfo": map[string]any{"stravnikid": p.BoarderId},
		"dates":   []string{},
	}
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i).Format("2006-01-02")
		if i >= 5 {
			menu[day] = []any{}
			continue
		}
		lunch := map[string]any{
			"isCooking": !p.ClosedDays[day],
			"zmen_do":   day + "T08:00:00",
			"rows": []any{
				map[string]any{"nazov": "Chicken soup", "menusStr": nil},
				map[string]any{"nazov": "Goulash " + day, "menusStr": ": 1"},
				map[string]any{"nazov": "Pasta " + day, "menusStr": ": 2"},
				nil,
			},
		}
		if ev := p.evidence(day); ev != nil {
			lunch["evidencia"] = ev
		}
		menu[day] = map[string]any{
			"1": map[string]any{"isCooking": true, "evidencia": map[string]any{"stav": "A"}},
			"2": lunch,
		}
	}

	data, err := json.Marshal(map[string]any{
		p.Subdomain: map[string]any{"novyListok": menu},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(
		w,
		"<html><body><script>\r\n$j(document).ready(function() {\r\n\tASC.menu.init({\r\n\t\tedupageData: %s,\r\n\t\tlang: \"sk\"\r\n\t});\r\n});\r\n</script></body></html>",
		data,
	)
}

func (p *Provider) serveMutation(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil || r.PostForm.Get("akcia") != "ulozJedlaStravnika" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var payload struct {
		BoarderId string            `json:"stravnikid"`
		Date      string            `json:"mysqlDate"`
		Choices   map[string]string `json:"jids"`
	}
	err = json.Unmarshal([]byte(r.PostForm.Get("jedlaStravnika")), &payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if p.RejectOrders != "" {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": p.RejectOrders})
		return
	}

	for slot, choice := range payload.Choices {
		p.mutations = append(p.mutations, Mutation{
			BoarderId: payload.BoarderId,
			Date:      payload.Date,
			Slot:      slot,
			Choice:    choice,
			GsecHash:  r.PostForm.Get("gsechash"),
		})
		if slot == "2" {
			p.choices[payload.Date] = choice
		}
	}

	if p.PlainAck {
		w.Header().Set("content-type", "text/html")
		fmt.Fprint(w, "<html><body>OK</body></html>")
		return
	}
	w.Header().Set("content-type", "application/json")
	fmt.Fprint(w, `{"error":""}`)
}
