package llamador

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	h := NewHandler(env.ingestor, env.dispatcher, env.registry, env.dir, env.movements, "/prellamador", zerolog.Nop())
	e := echo.New()
	return h, env, e
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func TestHandler_Webhook_Registered(t *testing.T) {
	h, env, e := newTestHandler()

	body := `{"event":"llamador","case_id":10,"activity_id":20,"contact_id":"30"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/llamador", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Webhook(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res IngestResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Status != StatusRegistered || res.Data == nil || res.Data.Branch != "salta" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if env.registry.Len() != 1 {
		t.Errorf("expected 1 record, got %d", env.registry.Len())
	}
}

func TestHandler_Webhook_Ignored(t *testing.T) {
	h, env, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhook/llamador", strings.NewReader(`{"event":"otro"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Webhook(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ignored"`) {
		t.Errorf("expected 200 ignored, got %d %s", rec.Code, rec.Body.String())
	}
	if env.registry.Len() != 0 {
		t.Error("ignored event must not register")
	}
}

func TestHandler_Webhook_UpstreamFailure(t *testing.T) {
	h, env, e := newTestHandler()
	env.partner.activityErr = errBoom

	req := httptest.NewRequest(http.MethodPost, "/webhook/llamador",
		strings.NewReader(`{"event":"llamador","case_id":1,"activity_id":2,"contact_id":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Webhook(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "error" {
		t.Errorf("expected status error, got %v", body)
	}
}

func TestHandler_Webhook_BadBody(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhook/llamador", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Webhook(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Llamar_RedirectsAlways(t *testing.T) {
	h, env, e := newTestHandler()
	r := seedRecord(t, env, "salta")
	display := addDisplay(env.dir, "salta")

	for _, id := range []string{r.ID, r.ID, "missing"} {
		req := formRequest("/llamar", url.Values{"registro_id": {id}, "box": {"3"}, "sucursal": {"Salta"}})
		rec := httptest.NewRecorder()
		if err := h.Llamar(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusSeeOther {
			t.Errorf("expected 303, got %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/prellamador/salta" {
			t.Errorf("unexpected redirect %q", loc)
		}
	}
	if n := len(display.frames()); n != 1 {
		t.Errorf("expected one delivery, got %d", n)
	}
}

func TestHandler_Rellamar(t *testing.T) {
	h, env, e := newTestHandler()
	r := seedRecord(t, env, "salta")

	call := func(values url.Values) (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		err := h.Rellamar(e.NewContext(formRequest("/rellamar", values), rec))
		return rec, err
	}
	wantCode := func(t *testing.T, err error, code int) {
		t.Helper()
		he, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("expected echo.HTTPError, got %v", err)
		}
		if he.Code != code {
			t.Errorf("expected %d, got %d", code, he.Code)
		}
	}

	_, err := call(url.Values{"registro_id": {r.ID}, "sucursal": {"salta"}})
	wantCode(t, err, http.StatusBadRequest)

	_, err = call(url.Values{"registro_id": {"missing"}, "box": {"1"}, "sucursal": {"salta"}})
	wantCode(t, err, http.StatusNotFound)

	_, err = call(url.Values{"registro_id": {r.ID}, "box": {"1"}, "sucursal": {"salta"}})
	wantCode(t, err, http.StatusServiceUnavailable)

	addDisplay(env.dir, "salta")
	rec, err := call(url.Values{"registro_id": {r.ID}, "box": {"1"}, "sucursal": {"salta"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected 303, got %d", rec.Code)
	}
}

func TestHandler_Diagnostico(t *testing.T) {
	h, env, e := newTestHandler()
	addDisplay(env.dir, "salta")
	addDashboard(env.dir, "salta")

	rec := httptest.NewRecorder()
	if err := h.Diagnostico(e.NewContext(httptest.NewRequest(http.MethodGet, "/diagnostico", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]map[string]int
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["llamadores"]["box_salta"] != 1 || body["prellamadores"]["salta"] != 1 {
		t.Errorf("unexpected diagnostics %s", rec.Body.String())
	}
}

func TestHandler_ListRegistros(t *testing.T) {
	h, env, e := newTestHandler()
	seedRecord(t, env, "salta")
	seedRecord(t, env, "jujuy")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registros?sucursal=SALTA", nil)
	rec := httptest.NewRecorder()
	if err := h.ListRegistros(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []CallRecord `json:"data"`
		Total int          `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Data[0].Branch != "salta" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListMovimientos(t *testing.T) {
	h, env, e := newTestHandler()
	r := seedRecord(t, env, "salta")
	addDisplay(env.dir, "salta")
	_ = env.dispatcher.Call(context.Background(), r.ID, "2", "salta")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/movimientos?sucursal=salta", nil)
	rec := httptest.NewRecorder()
	if err := h.ListMovimientos(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"evento":"llamado"`) {
		t.Errorf("expected llamado movement, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	err := h.ListMovimientos(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/movimientos", nil), rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without sucursal, got %v", err)
	}
}

func TestHandler_Routes_OperatorRole(t *testing.T) {
	h, _, e := newTestHandler()

	withRoles := func(roles ...string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				ctx := c.Request().Context()
				ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
		}
	}
	h.RegisterRoutes(e.Group(""), e.Group("", withRoles("recepcion")))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/registros", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without operator role, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/diagnostico", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected public diagnostics, got %d", rec.Code)
	}

	e2 := echo.New()
	h.RegisterRoutes(e2.Group(""), e2.Group("", withRoles(OperatorRole)))
	rec = httptest.NewRecorder()
	e2.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/registros", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for operator, got %d", rec.Code)
	}
}
