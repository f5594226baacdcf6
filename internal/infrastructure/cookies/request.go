package cookies

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
)

// Options controls the attributes of cookies written to a response.
type Options struct {
	MaxAge   time.Duration
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// DefaultOptions keeps identity for roughly ten years on the whole site.
func DefaultOptions() Options {
	return Options{
		MaxAge:   10 * 365 * 24 * time.Hour,
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// RequestStore reads cookies sent with a request and writes Set-Cookie
// headers on the response. Values set during the request shadow the ones
// the request arrived with. Not safe for concurrent use; build one per request.
type RequestStore struct {
	r       *http.Request
	w       http.ResponseWriter
	opts    Options
	written map[tracking.CookieName]string
}

// NewRequestStore binds a store to one request/response pair.
func NewRequestStore(w http.ResponseWriter, r *http.Request, opts Options) *RequestStore {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &RequestStore{r: r, w: w, opts: opts, written: make(map[tracking.CookieName]string)}
}

func (s *RequestStore) Get(name tracking.CookieName) (string, bool, error) {
	if v, ok := s.written[name]; ok {
		return v, true, nil
	}
	c, err := s.r.Cookie(string(name))
	if errors.Is(err, http.ErrNoCookie) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cookie %s: %w", name, err)
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode cookie %s: %w", name, err)
	}
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *RequestStore) Set(name tracking.CookieName, value string) error {
	if !name.IsKnown() {
		return fmt.Errorf("unknown cookie slot %q", name)
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     string(name),
		Value:    url.QueryEscape(value),
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		MaxAge:   int(s.opts.MaxAge.Seconds()),
		Secure:   s.opts.Secure,
		HttpOnly: s.opts.HTTPOnly,
		SameSite: s.opts.SameSite,
	})
	s.written[name] = value
	return nil
}
