package httpapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/httpapi"
)

func TestHTTPAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP API Suite")
}

var _ = Describe("Server", func() {
	var srv *httpapi.Server

	BeforeEach(func() {
		srv = httpapi.New(":0", ":0", nil)
	})

	It("reports healthy on /healthz unconditionally", func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		srv.HandleLiveness(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("reports ready when every registered checker succeeds", func() {
		srv.RegisterChecker("postgres", func(ctx context.Context) error { return nil })
		srv.RegisterChecker("redis", func(ctx context.Context) error { return nil })

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		srv.HandleReadiness(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("reports not ready when a checker fails", func() {
		srv.RegisterChecker("postgres", func(ctx context.Context) error { return errors.New("connection refused") })

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		srv.HandleReadiness(rec, req)
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
