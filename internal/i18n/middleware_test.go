package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func requestLabel(t *testing.T, target string, header http.Header) string {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "StatusComplete")
	}))

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddlewareLangQuery(t *testing.T) {
	if got := requestLabel(t, "/api/students?lang=zh", nil); got != "完成" {
		t.Errorf("lang=zh: got %q, want '完成'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	hdr := http.Header{"Accept-Language": []string{"zh-HK,zh;q=0.9,en;q=0.5"}}
	if got := requestLabel(t, "/api/students", hdr); got != "完成" {
		t.Errorf("Accept-Language zh: got %q, want '完成'", got)
	}
}

func TestMiddlewareQueryBeatsHeader(t *testing.T) {
	hdr := http.Header{"Accept-Language": []string{"zh"}}
	if got := requestLabel(t, "/api/students?lang=en", hdr); got != "Complete" {
		t.Errorf("lang=en over zh header: got %q, want 'Complete'", got)
	}
}

func TestMiddlewareDefaultFallback(t *testing.T) {
	if got := requestLabel(t, "/api/students", nil); got != "Complete" {
		t.Errorf("default: got %q, want 'Complete'", got)
	}
}
