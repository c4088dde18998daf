package healthprobe_test

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pixland/pixops/internal/config"
	"github.com/pixland/pixops/internal/healthprobe"
	"github.com/pixland/pixops/internal/logger"
)

var _ = Describe("Prober", func() {
	var (
		prober *healthprobe.Prober
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		prober = healthprobe.New(500*time.Millisecond, logger.Discard())
	})

	// closedURL returns a URL on a port nothing listens on.
	closedURL := func() string {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := l.Addr().String()
		l.Close()
		return "http://" + addr + "/health"
	}

	Describe("Check", func() {
		It("should report OK with model and version", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"model":"arcface","version":"1.0"}`))
			}))
			defer srv.Close()

			res := prober.Check(ctx, healthprobe.Service{Name: "face", URL: srv.URL})

			Expect(res.Status).To(Equal(healthprobe.StatusOK))
			Expect(res.Code).To(Equal(http.StatusOK))
			Expect(res.Model).To(Equal("arcface"))
			Expect(res.Version).To(Equal("1.0"))
		})

		It("should tolerate a non-JSON body", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<!doctype html><title>PixLand</title>"))
			}))
			defer srv.Close()

			res := prober.Check(ctx, healthprobe.Service{Name: "client", URL: srv.URL})

			Expect(res.Status).To(Equal(healthprobe.StatusOK))
			Expect(res.Model).To(BeEmpty())
		})

		It("should WARN on a non-200 status", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			res := prober.Check(ctx, healthprobe.Service{Name: "api", URL: srv.URL})

			Expect(res.Status).To(Equal(healthprobe.StatusWarn))
			Expect(res.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should report DOWN when the connection is refused", func() {
			res := prober.Check(ctx, healthprobe.Service{Name: "face", URL: closedURL()})

			Expect(res.Status).To(Equal(healthprobe.StatusDown))
			Expect(res.Err).To(HaveOccurred())
		})

		It("should report ERR when the response times out", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}))
			defer srv.Close()

			res := prober.Check(ctx, healthprobe.Service{Name: "api", URL: srv.URL})

			Expect(res.Status).To(Equal(healthprobe.StatusErr))
			Expect(res.Err).To(HaveOccurred())
		})
	})

	Describe("CheckAll", func() {
		It("should probe every service even when one is down", func() {
			var hits int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				w.Write([]byte(`{"model":"arcface","version":"1.0"}`))
			}))
			defer srv.Close()

			rep := prober.CheckAll(ctx, []healthprobe.Service{
				{Name: "Face Service", URL: srv.URL + "/health"},
				{Name: "API", URL: closedURL()},
				{Name: "Client", URL: srv.URL},
			})

			Expect(rep.Results).To(HaveLen(3))
			Expect(hits).To(Equal(2))
			Expect(rep.Healthy()).To(BeFalse())

			var buf bytes.Buffer
			rep.Print(&buf)
			out := buf.String()
			Expect(out).To(ContainSubstring("=== PixLand Service Health Check ==="))
			Expect(out).To(ContainSubstring("[OK]   Face Service  model=arcface  version=1.0"))
			Expect(out).To(ContainSubstring("[DOWN] API  -- NOT RUNNING"))
			Expect(out).To(ContainSubstring("Some services are DOWN."))
		})

		It("should be healthy when every service answers 200", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			defer srv.Close()

			rep := prober.CheckAll(ctx, []healthprobe.Service{{Name: "Client", URL: srv.URL}})

			Expect(rep.Healthy()).To(BeTrue())
			var buf bytes.Buffer
			rep.Print(&buf)
			Expect(buf.String()).To(ContainSubstring("All services are UP and healthy!"))
		})
	})
})

var _ = Describe("DefaultServices", func() {
	It("should derive endpoints from configuration", func() {
		cfg := &config.Config{
			FaceServiceURL: "http://localhost:5001/",
			APIURL:         "http://api.internal:5000",
			ClientURL:      "http://localhost:5173",
		}

		svcs := healthprobe.DefaultServices(cfg)

		Expect(svcs).To(Equal([]healthprobe.Service{
			{Name: "Face Service (localhost:5001)", URL: "http://localhost:5001/health"},
			{Name: "API (api.internal:5000)", URL: "http://api.internal:5000/api/health"},
			{Name: "Client (localhost:5173)", URL: "http://localhost:5173"},
		}))
	})
})
