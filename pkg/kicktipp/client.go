package kicktipp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
	"github.com/richard-senior/kicktipp/pkg/transport"
	"github.com/richard-senior/kicktipp/pkg/util"
)

const (
	DefaultBaseURL   = "https://www.kicktipp.de"
	DefaultMatchdays = 34
)

// ErrNotLoggedIn is returned by Login when the profile page shows no logout link
var ErrNotLoggedIn = errors.New("kicktipp login not confirmed")

// Config identifies the account and the tipp pool
type Config struct {
	BaseURL  string `yaml:"base_url"`  // (default: https://www.kicktipp.de)
	Pool     string `yaml:"pool"`      // pool slug as in https://www.kicktipp.de/<pool>/
	Username string `yaml:"username"`  // kennung, usually the e-mail address
	Password string `yaml:"password"`  // never logged
	SeasonID string `yaml:"season_id"` // tippsaisonId, discovered when empty
	// RenderWithBrowser loads matchday pages in headless chromium
	RenderWithBrowser bool `yaml:"render_with_browser"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Pool) == "" {
		return fmt.Errorf("kicktipp pool slug is required")
	}
	if c.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			return fmt.Errorf("invalid kicktipp base url %q: %w", c.BaseURL, err)
		}
	}
	return nil
}

// Client talks to one kicktipp pool. It implements tipp.Remote.
type Client struct {
	cfg      Config
	base     string
	session  *transport.Session
	renderer transport.Fetcher
	seasonID string
}

var _ tipp.Remote = (*Client)(nil)

// NewClient creates a client on session. renderer is optional and, when
// set, is used to load matchday pages instead of plain GETs.
func NewClient(cfg Config, session *transport.Session, renderer transport.Fetcher) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{cfg: cfg, base: base, session: session, renderer: renderer, seasonID: cfg.SeasonID}
}

// SeasonID is the tippsaisonId used for matchday URLs, empty until known
func (c *Client) SeasonID() string {
	return c.seasonID
}

func (c *Client) SetSeasonID(id string) {
	c.seasonID = id
}

// Login posts the credentials and checks the profile page for a logout link
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.base + "/info/profil/login"
	logger.Info(fmt.Sprintf("Logging in to %s as %s", c.base, util.MaskSecret(c.cfg.Username)))
	page, err := c.session.Get(ctx, loginURL, "")
	if err != nil {
		return &tipp.NetworkError{Op: "GET", URL: loginURL, Err: err}
	}

	values := hiddenFields(page.Body)
	values.Set("kennung", c.cfg.Username)
	values.Set("passwort", c.cfg.Password)
	values.Set("submit", "Login")
	actionURL := c.base + "/info/profil/loginaction"
	if _, err := c.session.Submit(ctx, "POST", actionURL, values, loginURL); err != nil {
		return &tipp.NetworkError{Op: "POST", URL: actionURL, Err: err}
	}

	profileURL := c.base + "/info/profil/"
	profile, err := c.session.Get(ctx, profileURL, "")
	if err != nil {
		return &tipp.NetworkError{Op: "GET", URL: profileURL, Err: err}
	}
	if !LoggedIn(profile.Body) {
		return ErrNotLoggedIn
	}
	logger.Info("Login successful, logout link found")
	return nil
}

// hiddenFields returns the hidden inputs of the login form, if any
func hiddenFields(body []byte) url.Values {
	values := url.Values{}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return values
	}
	form := doc.Find(`form[action*="loginaction"]`).First()
	if form.Length() == 0 {
		return values
	}
	form.Find(`input[type="hidden"][name]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		v, _ := s.Attr("value")
		values.Set(name, v)
	})
	return values
}

// LoggedIn reports whether a page shows a logout link
func LoggedIn(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if doc.Find(`a[href*="logout"], a[href*="abmelden"]`).Length() > 0 {
			return true
		}
	}
	low := strings.ToLower(string(body))
	return strings.Contains(low, "logout") || strings.Contains(low, "abmelden")
}

// MatchdayURL is the tippabgabe page of one matchday
func (c *Client) MatchdayURL(matchday int) string {
	q := url.Values{}
	q.Set("spieltagIndex", strconv.Itoa(matchday))
	q.Set("bonus", "false")
	q.Set("bannerTippschein", "true")
	if c.seasonID != "" {
		q.Set("tippsaisonId", c.seasonID)
	}
	return fmt.Sprintf("%s/%s/tippabgabe?%s", c.base, url.PathEscape(c.cfg.Pool), q.Encode())
}

// Load fetches the tippabgabe page of matchday
func (c *Client) Load(ctx context.Context, matchday int) (*tipp.Document, error) {
	u := c.MatchdayURL(matchday)
	logger.Info("GET tippabgabe form", u)
	if c.renderer != nil {
		body, err := c.renderer.Fetch(ctx, u)
		if err != nil {
			return nil, &tipp.NetworkError{Op: "RENDER", URL: u, Err: err}
		}
		return &tipp.Document{URL: u, HTML: string(body)}, nil
	}
	resp, err := c.session.Get(ctx, u, "")
	if err != nil {
		return nil, &tipp.NetworkError{Op: "GET", URL: u, Err: err}
	}
	return &tipp.Document{URL: resp.URL.String(), HTML: string(resp.Body)}, nil
}

// Send writes the tipp form. The season id is added when the form lacks it.
func (c *Client) Send(ctx context.Context, req tipp.SubmitRequest) error {
	values := url.Values{}
	for k, vs := range req.Values {
		values[k] = append([]string(nil), vs...)
	}
	if c.seasonID != "" && values.Get("tippsaisonId") == "" {
		values.Set("tippsaisonId", c.seasonID)
	}
	method := req.Method
	if method == "" {
		method = "POST"
	}
	if _, err := c.session.Submit(ctx, method, req.Action, values, req.Referer); err != nil {
		return &tipp.NetworkError{Op: method, URL: req.Action, Err: err}
	}
	return nil
}

//////////////////////////////////////////////////////////////////
////// Season discovery
//////////////////////////////////////////////////////////////////

var seasonIDRe = regexp.MustCompile(`tippsaisonId["']?\s*[:=]\s*["']?(\d+)`)

// Season is what a tippabgabe page tells about the running season
type Season struct {
	ID        string `json:"tippsaison_id"`
	Matchdays int    `json:"matchdays"`
	Current   int    `json:"current"`
}

// ParseSeason reads the tippsaisonId (hidden input, else inline script) and
// the matchday range from the spieltagIndex select
func ParseSeason(html string) (*Season, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse season page: %w", err)
	}
	s := &Season{Matchdays: DefaultMatchdays}

	if v, ok := doc.Find(`input[name="tippsaisonId"]`).First().Attr("value"); ok && strings.TrimSpace(v) != "" {
		s.ID = strings.TrimSpace(v)
	} else if m := seasonIDRe.FindStringSubmatch(html); m != nil {
		s.ID = m[1]
	}

	sel := doc.Find(`select[name="spieltagIndex"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find("#spieltagIndex").First()
	}
	max := 0
	sel.Find("option").Each(func(_ int, o *goquery.Selection) {
		v, ok := o.Attr("value")
		if !ok || strings.TrimSpace(v) == "" {
			v = o.Text()
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return
		}
		if n > max {
			max = n
		}
		if _, selected := o.Attr("selected"); selected {
			s.Current = n
		}
	})
	if max > 0 {
		s.Matchdays = max
	}
	return s, nil
}

// DiscoverSeason loads the first matchday page and remembers its season id
func (c *Client) DiscoverSeason(ctx context.Context) (*Season, error) {
	doc, err := c.Load(ctx, 1)
	if err != nil {
		return nil, err
	}
	s, err := ParseSeason(doc.HTML)
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		logger.Warn("No tippsaisonId found on the tippabgabe page")
	} else if c.seasonID == "" {
		c.seasonID = s.ID
	}
	logger.Info(fmt.Sprintf("Season %s has %d matchdays, current %d", s.ID, s.Matchdays, s.Current))
	return s, nil
}
