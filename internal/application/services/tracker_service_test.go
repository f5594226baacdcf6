package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/cookies"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/payload"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
)

type write struct {
	name  tracking.CookieName
	value string
}

// recordingStore wraps a MemoryStore and records every write.
type recordingStore struct {
	*cookies.MemoryStore
	writes []write
	getErr error
	setErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: cookies.NewMemoryStore()}
}

func (s *recordingStore) Get(name tracking.CookieName) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.MemoryStore.Get(name)
}

func (s *recordingStore) Set(name tracking.CookieName, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.writes = append(s.writes, write{name, value})
	return s.MemoryStore.Set(name, value)
}

func (s *recordingStore) writesTo(name tracking.CookieName) []string {
	var out []string
	for _, w := range s.writes {
		if w.name == name {
			out = append(out, w.value)
		}
	}
	return out
}

type call struct {
	endpoint tracking.Endpoint
	body     tracking.Payload
	siteID   string
}

type fakeTransport struct {
	calls []call
	resp  tracking.Response
	err   error
	delay time.Duration
}

func (f *fakeTransport) Post(ctx context.Context, endpoint tracking.Endpoint, body tracking.Payload) (tracking.Response, error) {
	f.calls = append(f.calls, call{endpoint, body, tracking.SiteIDFromContext(ctx)})
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return tracking.Response{"success": true}, nil
	}
	return f.resp, nil
}

// upperEncoder makes the encoded email easy to tell apart from the raw one.
type upperEncoder struct{}

func (upperEncoder) Encode(s string) string { return "enc:" + s }

func newTestTracker(store tracking.CookieStore, transport tracking.Transport, opts ...Option) *Tracker {
	n := 0
	opts = append([]Option{WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("visitor-%d", n)
	})}, opts...)
	builder := payload.NewBuilderWithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) })
	return NewTracker(store, builder, transport, opts...)
}

const campaign = "05809235-13f1-44b7-bd65-b523dd33c5f1"

func TestInitFirstVisit(t *testing.T) {
	store := newRecordingStore()
	tr := newTestTracker(store, &fakeTransport{})

	identity, err := tr.Init("site-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if identity.VisitorType != tracking.VisitorNew || identity.UserID != "visitor-1" || identity.SiteID != "site-1" {
		t.Fatalf("identity = %+v", identity)
	}
	if got := store.writesTo(tracking.CookieUserID); len(got) != 1 || got[0] != "visitor-1" {
		t.Fatalf("USER_ID writes = %v", got)
	}
	if got := store.writesTo(tracking.CookieSiteID); len(got) != 1 {
		t.Fatalf("SITE_ID writes = %v", got)
	}
}

func TestInitReturningVisitorKeepsID(t *testing.T) {
	store := newRecordingStore()
	store.MemoryStore.Set(tracking.CookieUserID, "existing")
	tr := newTestTracker(store, &fakeTransport{})

	for i := 0; i < 3; i++ {
		identity, err := tr.Init("site-1", false)
		if err != nil {
			t.Fatal(err)
		}
		if identity.VisitorType != tracking.VisitorReturning || identity.UserID != "existing" {
			t.Fatalf("identity = %+v", identity)
		}
	}
	if got := store.writesTo(tracking.CookieUserID); len(got) != 0 {
		t.Fatalf("USER_ID overwritten: %v", got)
	}
	if got := store.writesTo(tracking.CookieSiteID); len(got) != 3 {
		t.Fatalf("SITE_ID must be written on every init, got %v", got)
	}
}

func TestInitForceReissues(t *testing.T) {
	store := newRecordingStore()
	store.MemoryStore.Set(tracking.CookieUserID, "existing")
	tr := newTestTracker(store, &fakeTransport{})

	identity, err := tr.Init("site-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if identity.UserID == "existing" || identity.VisitorType != tracking.VisitorNew {
		t.Fatalf("identity = %+v", identity)
	}
	if v, _, _ := store.Get(tracking.CookieUserID); v != identity.UserID {
		t.Fatalf("stored USER_ID = %q", v)
	}
}

func TestInitWithDefaultGenerator(t *testing.T) {
	tr := NewTracker(cookies.NewMemoryStore(), payload.NewBuilder(), &fakeTransport{})
	a, _ := tr.Init("site-1", true)
	b, _ := tr.Init("site-1", true)
	if a.UserID == "" || a.UserID == b.UserID {
		t.Fatalf("ids not unique: %q %q", a.UserID, b.UserID)
	}
}

func TestInitEmptySiteStillWritesSiteID(t *testing.T) {
	store := newRecordingStore()
	tr := newTestTracker(store, &fakeTransport{})
	identity, err := tr.Init("", false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if identity.VisitorType != tracking.VisitorNew || identity.UserID != "visitor-1" {
		t.Fatalf("identity = %+v", identity)
	}
	if got := store.writesTo(tracking.CookieSiteID); len(got) != 1 || got[0] != "" {
		t.Fatalf("SITE_ID writes = %v", got)
	}
	if got := store.writesTo(tracking.CookieUserID); len(got) != 1 {
		t.Fatalf("USER_ID writes = %v", got)
	}
}

func TestInitPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	store := newRecordingStore()
	store.setErr = boom
	tr := newTestTracker(store, &fakeTransport{})
	if _, err := tr.Init("site-1", false); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	store = newRecordingStore()
	store.getErr = boom
	tr = newTestTracker(store, &fakeTransport{})
	if _, err := tr.Init("site-1", false); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdentifyStoresAndSendsEncodedEmail(t *testing.T) {
	store := newRecordingStore()
	transport := &fakeTransport{resp: tracking.Response{"success": "ok"}}
	tr := newTestTracker(store, transport, WithEncoder(upperEncoder{}))
	tr.Init("site-1", false)

	resp, err := tr.Identify(context.Background(), "some@mail.com", "some name", map[string]any{"color": "blue"})
	if err != nil {
		t.Fatal(err)
	}
	if resp["success"] != "ok" {
		t.Fatalf("response = %v", resp)
	}

	if got := store.writesTo(tracking.CookieUserEmail); len(got) != 1 || got[0] != "enc:some@mail.com" {
		t.Fatalf("USER_EMAIL writes = %v", got)
	}
	if len(transport.calls) != 1 || transport.calls[0].endpoint != tracking.EndpointIdentify {
		t.Fatalf("calls = %+v", transport.calls)
	}
	body := transport.calls[0].body
	if body["Email"] != "enc:some@mail.com" || body["Name"] != "some name" {
		t.Fatalf("body = %v", body)
	}
	for k, v := range body {
		if s, ok := v.(string); ok && s == "some@mail.com" {
			t.Fatalf("raw email sent in %s", k)
		}
	}
	if body["ContactId"] != "visitor-1" {
		t.Fatalf("identity missing from body: %v", body)
	}
}

func TestIdentifyDefaultEncoder(t *testing.T) {
	store := newRecordingStore()
	tr := NewTracker(store, payload.NewBuilder(), &fakeTransport{})
	if _, err := tr.Identify(context.Background(), "some@mail.com", "n", nil); err != nil {
		t.Fatal(err)
	}
	want := security.Base64Encoder{}.Encode("some@mail.com")
	if got, _, _ := store.Get(tracking.CookieUserEmail); got != want {
		t.Fatalf("USER_EMAIL = %q, want %q", got, want)
	}
}

func TestAddToOrderValidation(t *testing.T) {
	valid := tracking.Item{Code: "sku-1", Price: 22.45, URL: "http://item.com", Quantity: 1}
	cases := []struct {
		name   string
		mutate func(*tracking.Item)
		field  string
	}{
		{"empty code", func(i *tracking.Item) { i.Code = "" }, "code"},
		{"empty url", func(i *tracking.Item) { i.URL = "" }, "url"},
		{"zero quantity", func(i *tracking.Item) { i.Quantity = 0 }, "quantity"},
		{"scalar properties", func(i *tracking.Item) { i.Properties = false }, "properties"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newRecordingStore()
			transport := &fakeTransport{}
			tr := newTestTracker(store, transport)

			item := valid
			tc.mutate(&item)
			_, err := tr.AddToOrder(context.Background(), item)
			var argErr *tracking.ArgumentError
			if !errors.As(err, &argErr) || argErr.Field != tc.field {
				t.Fatalf("err = %v, want invalid %s", err, tc.field)
			}
			if !errors.Is(err, tracking.ErrInvalidArgument) {
				t.Fatal("error does not match ErrInvalidArgument")
			}
			if len(transport.calls) != 0 || len(store.writes) != 0 {
				t.Fatal("side effects before validation")
			}
		})
	}
}

func TestAddToOrderPostsProduct(t *testing.T) {
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport)
	tr.Init("site-1", false)

	item := tracking.Item{Code: "sku-1", Price: 10, URL: "http://item.com", Quantity: 2, Properties: map[string]string{"size": "L"}}
	if _, err := tr.AddToOrder(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if len(transport.calls) != 1 || transport.calls[0].endpoint != tracking.EndpointTrack {
		t.Fatalf("calls = %+v", transport.calls)
	}
	body := transport.calls[0].body
	if body["ActionType"] != payload.ActionAddedToOrder {
		t.Fatalf("ActionType = %v", body["ActionType"])
	}
	product, ok := body["Product"].(map[string]any)
	if !ok || product["itemCode"] != "sku-1" || product["itemTotalPrice"] != 20.0 || product["size"] != "L" {
		t.Fatalf("product = %v", body["Product"])
	}
}

func TestCreateOrderAndComplete(t *testing.T) {
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport)

	order := tr.CreateOrder(120)
	if order.Total != 120 {
		t.Fatalf("total = %v", order.Total)
	}
	if len(transport.calls) != 0 {
		t.Fatal("CreateOrder must not send")
	}
	if _, err := tr.OrderCompleted(context.Background(), order); err != nil {
		t.Fatalf("well-formed order rejected: %v", err)
	}
	if len(transport.calls) != 1 || transport.calls[0].endpoint != tracking.EndpointTrack {
		t.Fatalf("calls = %+v", transport.calls)
	}
	if transport.calls[0].body["ActionType"] != payload.ActionOrderCompleted {
		t.Fatalf("body = %v", transport.calls[0].body)
	}
}

func TestOrderCompletedRejectsMalformed(t *testing.T) {
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport)
	for _, order := range []*tracking.Order{nil, {Total: 5}} {
		if _, err := tr.OrderCompleted(context.Background(), order); !errors.Is(err, tracking.ErrInvalidArgument) {
			t.Fatalf("err = %v", err)
		}
	}
	if len(transport.calls) != 0 {
		t.Fatal("malformed order sent")
	}
}

func TestPageView(t *testing.T) {
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport)
	tr.Init("site-1", false)

	if _, err := tr.PageView(context.Background(), "http://google.com", map[string]any{"color": "blue"}); err != nil {
		t.Fatal(err)
	}
	if len(transport.calls) != 1 || transport.calls[0].endpoint != tracking.EndpointTrack {
		t.Fatalf("calls = %+v", transport.calls)
	}
	body := transport.calls[0].body
	props, _ := body["Properties"].(map[string]any)
	if body["Url"] != "http://google.com" || props["color"] != "blue" {
		t.Fatalf("body = %v", body)
	}
	if transport.calls[0].siteID != "site-1" {
		t.Fatalf("site id in context = %q", transport.calls[0].siteID)
	}

	if _, err := tr.PageView(context.Background(), "", nil); err != nil {
		t.Fatalf("empty url: err = %v", err)
	}
	if len(transport.calls) != 2 || transport.calls[1].body["Url"] != "" {
		t.Fatalf("calls = %+v", transport.calls)
	}
}

func TestAddToOrderAcceptsNegativeQuantity(t *testing.T) {
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport)

	item := tracking.Item{Code: "sku-1", Price: 10, URL: "http://item.com", Quantity: -1}
	if _, err := tr.AddToOrder(context.Background(), item); err != nil {
		t.Fatalf("AddToOrder: %v", err)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("calls = %+v", transport.calls)
	}
}

func TestTransportErrorsPropagateWithoutRollback(t *testing.T) {
	boom := errors.New("connection refused")
	store := newRecordingStore()
	tr := newTestTracker(store, &fakeTransport{err: boom}, WithEncoder(upperEncoder{}))

	if _, err := tr.Identify(context.Background(), "a@b.c", "n", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if v, ok, _ := store.Get(tracking.CookieUserEmail); !ok || v != "enc:a@b.c" {
		t.Fatal("email write must survive a failed send")
	}
}

func TestStoreCampaignID(t *testing.T) {
	store := newRecordingStore()
	tr := newTestTracker(store, &fakeTransport{})

	if err := tr.StoreCampaignID(123); !errors.Is(err, tracking.ErrInvalidArgument) {
		t.Fatalf("number accepted: %v", err)
	}
	if err := tr.StoreCampaignID("05809235"); !errors.Is(err, tracking.ErrInvalidArgument) {
		t.Fatalf("short id accepted: %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatal("invalid id written")
	}

	for i := 0; i < 2; i++ {
		if err := tr.StoreCampaignID(campaign); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.writesTo(tracking.CookieCampaignID); len(got) != 1 || got[0] != campaign {
		t.Fatalf("CAMPAIGN_ID writes = %v", got)
	}

	identity, _ := tr.Identity()
	if identity.CampaignID != campaign {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestIsValidUUID(t *testing.T) {
	tr := newTestTracker(newRecordingStore(), &fakeTransport{})
	if !tr.IsValidUUID(campaign) || !tr.IsValidUUID("0580923513f144b7bd65b523dd33c5f1") || tr.IsValidUUID("05809235") {
		t.Fatal("unexpected IsValidUUID result")
	}
}

func TestDispatchRecordsMarkers(t *testing.T) {
	perf := performance.NewTracker(nil)
	transport := &fakeTransport{}
	tr := newTestTracker(newRecordingStore(), transport, WithPerfTracker(perf))

	tr.PageView(context.Background(), "http://google.com", nil)
	transport.err = errors.New("down")
	tr.PageView(context.Background(), "http://google.com", nil)

	sums := perf.Summaries()
	if len(sums) != 1 || sums[0].Operation != "track:page_view" || sums[0].Count != 2 || sums[0].Failures != 1 {
		t.Fatalf("summaries = %+v", sums)
	}
}

func TestDispatchMarkerMetadata(t *testing.T) {
	var buf bytes.Buffer
	perf := performance.NewTracker(&performance.TrackerConfig{
		MaxMarkers:    10,
		Retention:     time.Hour,
		SlowThreshold: time.Nanosecond,
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	transport := &fakeTransport{delay: time.Millisecond}
	tr := newTestTracker(newRecordingStore(), transport, WithPerfTracker(perf))

	tr.PageView(context.Background(), "http://google.com", nil)
	tr.Init("site-1", false)
	tr.Identify(context.Background(), "a@b.c", "n", nil)

	dec := json.NewDecoder(&buf)
	var entries []map[string]any
	for dec.More() {
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}

	first, _ := entries[0]["metadata"].(map[string]any)
	if entries[0]["operation"] != "track:page_view" || first["endpoint"] != "track" || first["anonymous"] != true {
		t.Fatalf("page view marker = %v", entries[0])
	}
	second, _ := entries[1]["metadata"].(map[string]any)
	if entries[1]["operation"] != "track:identify" || second["endpoint"] != "identify" || second["anonymous"] != false {
		t.Fatalf("identify marker = %v", entries[1])
	}
}
