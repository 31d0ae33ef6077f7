package kicktipp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/richard-senior/kicktipp/pkg/tipp"
	"github.com/richard-senior/kicktipp/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tippPage = `<html><head><script>var tippsaisonId = 3912345;</script></head><body>
<div class="nav"><select name="spieltagIndex"><option value="1">1. Spieltag</option><option value="2" selected="selected">2. Spieltag</option><option value="3">3. Spieltag</option></select></div>
<form id="tippabgabeForm" action="/testpool/tippabgabe?spieltagIndex=2" method="post">
<table><tr><td>18.10.25 15:30</td><td>FC Bayern München</td><td>Borussia Dortmund</td>
<td><input type="tel" name="spieltippForms[1].heimTipp" value=""/><input type="tel" name="spieltippForms[1].gastTipp" value=""/></td><td>1.45 / 5.00 / 6.00</td></tr></table>
<input type="submit" name="submitbutton" value="Tipps speichern"/></form></body></html>`

// kicktippServer fakes login and the tippabgabe endpoints
type kicktippServer struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string][]string
	fail     bool
}

func (k *kicktippServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info/profil/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><form action="/info/profil/loginaction" method="post">
<input type="hidden" name="_charset_" value="UTF-8"/><input name="kennung"/><input type="password" name="passwort"/></form></body></html>`))
	})
	mux.HandleFunc("/info/profil/loginaction", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		k.record(r)
		if r.PostForm.Get("kennung") == "tipper@example.com" && r.PostForm.Get("passwort") == "geheim" {
			http.SetCookie(w, &http.Cookie{Name: "login", Value: "ok", Path: "/"})
		}
		http.Redirect(w, r, "/info/profil/", http.StatusFound)
	})
	mux.HandleFunc("/info/profil/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("login"); err == nil && c.Value == "ok" {
			w.Write([]byte(`<html><body><a href="/info/profil/logout">Abmelden</a></body></html>`))
			return
		}
		w.Write([]byte(`<html><body><p>Bitte anmelden</p></body></html>`))
	})
	mux.HandleFunc("/testpool/tippabgabe", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		k.record(r)
		if k.fail {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(tippPage))
	})
	return mux
}

func (k *kicktippServer) record(r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = append(k.requests, r)
	k.forms = append(k.forms, r.Form)
}

func (k *kicktippServer) last() (*http.Request, map[string][]string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.requests[len(k.requests)-1], k.forms[len(k.forms)-1]
}

func newTestClient(t *testing.T, cfg Config) (*Client, *kicktippServer) {
	t.Helper()
	ks := &kicktippServer{}
	srv := httptest.NewServer(ks.handler())
	t.Cleanup(srv.Close)
	session, err := transport.NewSession(transport.SessionConfig{})
	require.NoError(t, err)
	cfg.BaseURL = srv.URL
	if cfg.Pool == "" {
		cfg.Pool = "testpool"
	}
	return NewClient(cfg, session, nil), ks
}

func TestLogin(t *testing.T) {
	c, ks := newTestClient(t, Config{Username: "tipper@example.com", Password: "geheim"})
	require.NoError(t, c.Login(context.Background()))

	_, form := ks.last()
	assert.Equal(t, "UTF-8", first(form, "_charset_"))
	assert.Equal(t, "Login", first(form, "submit"))
}

func TestLoginNotConfirmed(t *testing.T) {
	c, _ := newTestClient(t, Config{Username: "tipper@example.com", Password: "falsch"})
	err := c.Login(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func first(form map[string][]string, key string) string {
	if vs := form[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func TestMatchdayURL(t *testing.T) {
	c := NewClient(Config{Pool: "meine-runde"}, nil, nil)
	assert.Equal(t, "https://www.kicktipp.de/meine-runde/tippabgabe?bannerTippschein=true&bonus=false&spieltagIndex=5", c.MatchdayURL(5))
	c.SetSeasonID("3912345")
	assert.Contains(t, c.MatchdayURL(5), "tippsaisonId=3912345")
}

func TestLoadAndDiscoverSeason(t *testing.T) {
	c, ks := newTestClient(t, Config{})
	s, err := c.DiscoverSeason(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3912345", s.ID)
	assert.Equal(t, 3, s.Matchdays)
	assert.Equal(t, 2, s.Current)
	assert.Equal(t, "3912345", c.SeasonID())

	doc, err := c.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "FC Bayern München")
	r, form := ks.last()
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "7", first(form, "spieltagIndex"))
	assert.Equal(t, "3912345", first(form, "tippsaisonId"))
	assert.True(t, strings.HasSuffix(doc.URL, r.URL.RequestURI()))
}

func TestSendAddsSeasonID(t *testing.T) {
	c, ks := newTestClient(t, Config{SeasonID: "777"})
	doc, err := c.Load(context.Background(), 2)
	require.NoError(t, err)

	err = c.Send(context.Background(), tipp.SubmitRequest{
		Method:  "POST",
		Action:  c.base + "/testpool/tippabgabe?spieltagIndex=2",
		Referer: doc.URL,
		Values:  map[string][]string{"spieltippForms[1].heimTipp": {"2"}, "spieltippForms[1].gastTipp": {"1"}},
	})
	require.NoError(t, err)
	r, form := ks.last()
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, doc.URL, r.Header.Get("Referer"))
	assert.Equal(t, "777", first(form, "tippsaisonId"))
	assert.Equal(t, "2", first(form, "spieltippForms[1].heimTipp"))
}

func TestErrorsAreNetworkErrors(t *testing.T) {
	c, ks := newTestClient(t, Config{})
	ks.fail = true

	_, err := c.Load(context.Background(), 1)
	var ne *tipp.NetworkError
	require.True(t, errors.As(err, &ne), "expected NetworkError, got %v", err)
	assert.Equal(t, "GET", ne.Op)
	var se *transport.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)

	err = c.Send(context.Background(), tipp.SubmitRequest{Method: "POST", Action: ne.URL})
	assert.True(t, errors.As(err, &ne))
}

type staticRenderer struct {
	urls []string
}

func (s *staticRenderer) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	s.urls = append(s.urls, rawURL)
	return []byte(tippPage), nil
}

func TestLoadUsesRenderer(t *testing.T) {
	r := &staticRenderer{}
	c := NewClient(Config{Pool: "testpool"}, nil, r)
	doc, err := c.Load(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, r.urls, 1)
	assert.Equal(t, c.MatchdayURL(4), doc.URL)
	assert.Contains(t, doc.HTML, "tippabgabeForm")
}

func TestParseSeason(t *testing.T) {
	s, err := ParseSeason(`<form><input type="hidden" name="tippsaisonId" value=" 4242 "/></form>`)
	require.NoError(t, err)
	assert.Equal(t, "4242", s.ID)
	assert.Equal(t, DefaultMatchdays, s.Matchdays)

	s, err = ParseSeason(`<script>window.cfg = {"tippsaisonId": "3912345"};</script><select id="spieltagIndex"><option>1</option><option>17</option></select>`)
	require.NoError(t, err)
	assert.Equal(t, "3912345", s.ID)
	assert.Equal(t, 17, s.Matchdays)

	s, err = ParseSeason(`<html></html>`)
	require.NoError(t, err)
	assert.Empty(t, s.ID)
}

func TestLoggedIn(t *testing.T) {
	assert.True(t, LoggedIn([]byte(`<a href="/info/profil/logout">x</a>`)))
	assert.True(t, LoggedIn([]byte(`<span>Abmelden</span>`)))
	assert.False(t, LoggedIn([]byte(`<a href="/info/profil/login">Anmelden</a>`)))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Pool: "x", BaseURL: "not a url"}.Validate())
	assert.NoError(t, Config{Pool: "x"}.Validate())
}
