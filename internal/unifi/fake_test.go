package unifi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	fakeUser     = "labtech"
	fakePassword = "secret"
	fakeCookie   = "unifises=s3ss10n; csrf_token=t0k3n"
)

type recordedCall struct {
	Method      string
	Path        string
	Cookie      string
	ContentType string
	Body        map[string]any
}

// fakeController is a scriptable UniFi controller on a self-signed TLS server.
type fakeController struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []recordedCall

	loginRC        string
	createRC       string
	listRC         string
	stamgrRC       string
	hotspotAuthRC  string
	noCookies      bool
	skipListing    bool          // create-voucher succeeds but nothing shows up in stat/voucher
	stamgrDelay    time.Duration // stamgr waits this long (or until the request is cancelled)
	vouchers       []Voucher
	clock          int64
	generatedCodes int
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()

	f := &fakeController{
		loginRC:       resultOK,
		createRC:      resultOK,
		listRC:        resultOK,
		stamgrRC:      resultOK,
		hotspotAuthRC: resultOK,
		clock:         1_700_000_000,
	}
	f.server = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeController) client(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(Config{
		URL:      f.server.URL,
		Username: fakeUser,
		Password: fakePassword,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func (f *fakeController) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method:      r.Method,
		Path:        r.URL.Path,
		Cookie:      r.Header.Get("Cookie"),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	f.mu.Unlock()

	if r.URL.Path == "/api/login" {
		f.login(w, body)
		return
	}

	if r.Header.Get("Cookie") != fakeCookie {
		writeEnvelope(w, http.StatusUnauthorized, "error", "api.err.LoginRequired", nil)
		return
	}

	switch r.URL.Path {
	case "/api/s/default/cmd/hotspot":
		switch body["cmd"] {
		case "create-voucher":
			f.createVoucher(w, body)
		case "authorize-guest":
			writeEnvelope(w, http.StatusOK, f.hotspotAuthRC, msgFor(f.hotspotAuthRC), []any{})
		default:
			writeEnvelope(w, http.StatusBadRequest, "error", "api.err.UnknownCommand", nil)
		}
	case "/api/s/default/stat/voucher":
		f.mu.Lock()
		list := append([]Voucher(nil), f.vouchers...)
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, f.listRC, msgFor(f.listRC), list)
	case "/api/s/default/cmd/stamgr":
		if f.stamgrDelay > 0 {
			select {
			case <-time.After(f.stamgrDelay):
			case <-r.Context().Done():
				return
			}
		}
		writeEnvelope(w, http.StatusOK, f.stamgrRC, msgFor(f.stamgrRC), []any{})
	default:
		writeEnvelope(w, http.StatusNotFound, "error", "api.err.NotFound", nil)
	}
}

func (f *fakeController) login(w http.ResponseWriter, body map[string]any) {
	if f.loginRC != resultOK || body["username"] != fakeUser || body["password"] != fakePassword {
		writeEnvelope(w, http.StatusBadRequest, "error", "api.err.Invalid", []any{})
		return
	}
	if !f.noCookies {
		http.SetCookie(w, &http.Cookie{Name: "unifises", Value: "s3ss10n", Path: "/", HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "t0k3n", Path: "/"})
	}
	writeEnvelope(w, http.StatusOK, resultOK, "", []any{})
}

func (f *fakeController) createVoucher(w http.ResponseWriter, body map[string]any) {
	if f.createRC != resultOK {
		writeEnvelope(w, http.StatusOK, f.createRC, msgFor(f.createRC), nil)
		return
	}

	f.mu.Lock()
	f.clock++
	f.generatedCodes++
	v := Voucher{
		ID:         fmt.Sprintf("v%04d", f.generatedCodes),
		Code:       fmt.Sprintf("%010d", 1234500000+f.generatedCodes),
		Duration:   int(number(body["expire"])),
		UsageQuota: int64(number(body["bytes"])),
		CreateTime: f.clock,
		Note:       fmt.Sprint(body["note"]),
		Quota:      int(number(body["quota"])),
		ForHotspot: body["for_hotspot"] == true,
		Status:     "VALID_ONE",
	}
	if !f.skipListing {
		f.vouchers = append(f.vouchers, v)
	}
	f.mu.Unlock()

	writeEnvelope(w, http.StatusOK, resultOK, "", []map[string]any{{"create_time": v.CreateTime}})
}

func (f *fakeController) callsTo(path string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeController) commandCalls(path, cmd string) []recordedCall {
	var out []recordedCall
	for _, c := range f.callsTo(path) {
		if c.Body["cmd"] == cmd {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeController) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeEnvelope(w http.ResponseWriter, status int, rc, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	m := map[string]any{"rc": rc}
	if msg != "" {
		m["msg"] = msg
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"meta": m, "data": data})
}

func msgFor(rc string) string {
	if rc == resultOK {
		return ""
	}
	return "api.err.Invalid"
}

func number(v any) float64 {
	n, _ := v.(float64)
	return n
}
