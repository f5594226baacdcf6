package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AtRiskMedia/tracker-go/internal/application/container"
	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/transport"
	"github.com/gin-gonic/gin"
)

type fakeTransport struct {
	calls []tracking.Payload
	err   error
}

func (f *fakeTransport) Post(_ context.Context, endpoint tracking.Endpoint, body tracking.Payload) (tracking.Response, error) {
	f.calls = append(f.calls, body)
	if f.err != nil {
		return nil, f.err
	}
	return tracking.Response{"endpoint": string(endpoint)}, nil
}

// browser replays cookies between requests like a user agent would.
type browser struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, tr tracking.Transport) *browser {
	return newLoggedBrowser(t, tr, nil)
}

func newLoggedBrowser(t *testing.T, tr tracking.Transport, logger *logging.ChanneledLogger) *browser {
	gin.SetMode(gin.TestMode)
	h := NewTrackingHandlers(container.NewContainerWithTransport(tr, logger))

	r := gin.New()
	g := r.Group("/api/v1/track")
	g.POST("/init", h.PostInit)
	g.GET("/identity", h.GetIdentity)
	g.POST("/identify", h.PostIdentify)
	g.POST("/cart", h.PostCart)
	g.POST("/order", h.PostOrder)
	g.POST("/pageview", h.PostPageView)
	g.POST("/campaign", h.PostCampaign)
	g.GET("/stats", h.GetStats)
	return &browser{t: t, router: r, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, path, body string) (int, map[string]any) {
	b.t.Helper()
	req := httptest.NewRequest(method, "/api/v1/track"+path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		b.cookies[c.Name] = c
	}

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			b.t.Fatalf("%s %s: non-JSON body %q", method, path, w.Body.String())
		}
	}
	return w.Code, out
}

func TestInitAndIdentity(t *testing.T) {
	b := newBrowser(t, &fakeTransport{})

	code, body := b.do(http.MethodPost, "/init", `{"siteId":"site-1"}`)
	if code != http.StatusOK || body["visitorType"] != "new" {
		t.Fatalf("first init: %d %v", code, body)
	}
	userID := body["userId"]

	code, body = b.do(http.MethodPost, "/init", `{"siteId":"site-1"}`)
	if code != http.StatusOK || body["visitorType"] != "returning" || body["userId"] != userID {
		t.Fatalf("second init: %d %v", code, body)
	}

	code, body = b.do(http.MethodPost, "/init", `{"siteId":"site-1","force":true}`)
	if code != http.StatusOK || body["userId"] == userID {
		t.Fatalf("forced init: %d %v", code, body)
	}

	code, body = b.do(http.MethodGet, "/identity", "")
	if code != http.StatusOK || body["siteId"] != "site-1" {
		t.Fatalf("identity: %d %v", code, body)
	}
	if _, ok := body["email"]; ok {
		t.Fatal("email reported before identify")
	}
}

func TestInitWithoutSite(t *testing.T) {
	b := newBrowser(t, &fakeTransport{})
	code, body := b.do(http.MethodPost, "/init", `{}`)
	if code != http.StatusOK || body["visitorType"] != "new" {
		t.Fatalf("init: %d %v", code, body)
	}
	if _, ok := b.cookies[string(tracking.CookieSiteID)]; !ok {
		t.Fatal("SITE_ID cookie not set")
	}
	if code, _ := b.do(http.MethodPost, "/init", `not json`); code != http.StatusBadRequest {
		t.Fatalf("code = %d", code)
	}
}

func TestIdentifySetsEncodedEmailCookie(t *testing.T) {
	tr := &fakeTransport{}
	b := newBrowser(t, tr)
	b.do(http.MethodPost, "/init", `{"siteId":"site-1"}`)

	code, body := b.do(http.MethodPost, "/identify", `{"email":"some@mail.com","name":"some name","properties":{"color":"blue"}}`)
	if code != http.StatusOK || body["endpoint"] != "identify" {
		t.Fatalf("identify: %d %v", code, body)
	}
	cookie, ok := b.cookies[string(tracking.CookieUserEmail)]
	if !ok || cookie.Value == "" || cookie.Value == "some@mail.com" {
		t.Fatalf("USER_EMAIL cookie = %+v", cookie)
	}
	if len(tr.calls) != 1 || tr.calls[0]["Email"] == "some@mail.com" {
		t.Fatalf("calls = %v", tr.calls)
	}
}

func TestCartValidation(t *testing.T) {
	tr := &fakeTransport{}
	b := newBrowser(t, tr)

	bad := []string{
		`{"price":22.45,"url":"http://item.com","quantity":1}`,
		`{"code":"a","price":22.45,"quantity":1}`,
		`{"code":"a","price":22.45,"url":"http://item.com","quantity":0}`,
		`{"code":"a","price":22.45,"url":"http://item.com","quantity":1,"properties":false}`,
	}
	for _, body := range bad {
		if code, _ := b.do(http.MethodPost, "/cart", body); code != http.StatusBadRequest {
			t.Fatalf("%s: code = %d", body, code)
		}
	}
	if len(tr.calls) != 0 {
		t.Fatal("invalid cart lines sent")
	}

	code, _ := b.do(http.MethodPost, "/cart", `{"code":"a","price":2,"url":"http://item.com","quantity":3,"properties":{"size":"L"}}`)
	if code != http.StatusOK || len(tr.calls) != 1 {
		t.Fatalf("valid cart line: %d, calls %d", code, len(tr.calls))
	}
}

func TestOrder(t *testing.T) {
	tr := &fakeTransport{}
	b := newBrowser(t, tr)

	code, body := b.do(http.MethodPost, "/order", `{"total":120,"products":[{"code":"a","price":60,"url":"http://item.com","quantity":2}]}`)
	if code != http.StatusOK || body["orderId"] == "" {
		t.Fatalf("order: %d %v", code, body)
	}
	order, _ := tr.calls[0]["Order"].(map[string]any)
	if order["orderTotal"] != 120.0 {
		t.Fatalf("order payload = %v", tr.calls[0])
	}

	if code, _ := b.do(http.MethodPost, "/order", `{"total":5,"products":[{"code":"","url":"u","quantity":1}]}`); code != http.StatusBadRequest {
		t.Fatalf("invalid line: code = %d", code)
	}
}

func TestPageViewAndUpstreamErrors(t *testing.T) {
	tr := &fakeTransport{}
	b := newBrowser(t, tr)

	if code, _ := b.do(http.MethodPost, "/pageview", `{"url":"http://google.com","properties":{"color":"blue"}}`); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if tr.calls[0]["Url"] != "http://google.com" {
		t.Fatalf("payload = %v", tr.calls[0])
	}

	tr.err = &transport.StatusError{Endpoint: tracking.EndpointTrack, StatusCode: 403, Body: "nope"}
	if code, _ := b.do(http.MethodPost, "/pageview", `{"url":"http://google.com"}`); code != http.StatusBadGateway {
		t.Fatalf("collector rejection: code = %d", code)
	}

	tr.err = errors.New("dial tcp: refused")
	if code, _ := b.do(http.MethodPost, "/pageview", `{"url":"http://google.com"}`); code != http.StatusInternalServerError {
		t.Fatalf("transport failure: code = %d", code)
	}
}

func TestCampaign(t *testing.T) {
	b := newBrowser(t, &fakeTransport{})

	if code, _ := b.do(http.MethodPost, "/campaign", `{"campaignId":123}`); code != http.StatusBadRequest {
		t.Fatalf("numeric id: code = %d", code)
	}
	if code, _ := b.do(http.MethodPost, "/campaign", `{"campaignId":"05809235"}`); code != http.StatusBadRequest {
		t.Fatalf("short id: code = %d", code)
	}
	if code, _ := b.do(http.MethodPost, "/campaign", `{"campaignId":"05809235-13f1-44b7-bd65-b523dd33c5f1"}`); code != http.StatusOK {
		t.Fatalf("valid id: code = %d", code)
	}
	_, body := b.do(http.MethodGet, "/identity", "")
	if body["campaignId"] != "05809235-13f1-44b7-bd65-b523dd33c5f1" {
		t.Fatalf("identity = %v", body)
	}
}

func TestStats(t *testing.T) {
	b := newBrowser(t, &fakeTransport{})
	b.do(http.MethodPost, "/pageview", `{"url":"http://google.com"}`)

	code, body := b.do(http.MethodGet, "/stats", "")
	ops, _ := body["operations"].([]any)
	if code != http.StatusOK || len(ops) == 0 {
		t.Fatalf("stats: %d %v", code, body)
	}
}

func TestRequestLogsCarryContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{OutputToConsole: true, Console: &buf, JSONFormat: true})
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	b := newLoggedBrowser(t, tr, logger)

	b.do(http.MethodPost, "/init", `{"siteId":"site-9"}`)
	tr.err = &transport.StatusError{Endpoint: tracking.EndpointTrack, StatusCode: 403, Body: "nope"}
	b.do(http.MethodPost, "/pageview", `{"url":"http://google.com"}`)

	var sawSite, sawOperation bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		switch entry["msg"] {
		case "Visitor initialized":
			sawSite = entry["siteId"] == "site-9"
		case "Collector rejected event":
			sawOperation = entry["operation"] == "pageview" && entry["status"] == 403.0
		}
	}
	if !sawSite || !sawOperation {
		t.Fatalf("log output missing context:\n%s", buf.String())
	}
}
