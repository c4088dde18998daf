package healthprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixland/pixops/internal/config"
)

// Status is the classification of one probe.
type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusDown Status = "DOWN"
	StatusErr  Status = "ERR"
)

// Service is a named endpoint to probe.
type Service struct {
	Name string
	URL  string
}

// Result is the outcome of probing one service.
type Result struct {
	Service Service
	Status  Status
	Code    int
	Model   string
	Version string
	Err     error
	Latency time.Duration
}

// healthBody is the optional JSON a health endpoint may return.
type healthBody struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

// Prober probes services one after another.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

func New(timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// DefaultServices derives the face service, API and client endpoints from configuration.
func DefaultServices(cfg *config.Config) []Service {
	face := strings.TrimRight(cfg.FaceServiceURL, "/")
	api := strings.TrimRight(cfg.APIURL, "/")
	return []Service{
		{Name: fmt.Sprintf("Face Service (%s)", hostOf(face)), URL: face + "/health"},
		{Name: fmt.Sprintf("API (%s)", hostOf(api)), URL: api + "/api/health"},
		{Name: fmt.Sprintf("Client (%s)", hostOf(cfg.ClientURL)), URL: cfg.ClientURL},
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// Check sends a single GET to svc and classifies the answer.
func (p *Prober) Check(ctx context.Context, svc Service) Result {
	res := Result{Service: svc}
	start := time.Now()
	defer func() {
		res.Latency = time.Since(start)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		res.Status, res.Err = StatusErr, err
		return res
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = err
		if isUnreachable(err) {
			res.Status = StatusDown
		} else {
			res.Status = StatusErr
		}
		p.logger.Debug("Probe failed",
			slog.String("service", svc.Name),
			slog.String("status", string(res.Status)),
			slog.Any("error", err))
		return res
	}
	defer resp.Body.Close()

	res.Code = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		res.Status = StatusWarn
		return res
	}

	res.Status = StatusOK
	// A non-JSON body (the client's index.html) just leaves model and version empty.
	var body healthBody
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(raw, &body) == nil {
			res.Model, res.Version = body.Model, body.Version
		}
	}
	return res
}

// isUnreachable reports a refused connection or an unresolvable host.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Report holds the results of a CheckAll run in probe order.
type Report struct {
	Results []Result
}

// CheckAll probes every service sequentially. One failure never stops the others.
func (p *Prober) CheckAll(ctx context.Context, services []Service) Report {
	var rep Report
	for _, svc := range services {
		r := p.Check(ctx, svc)
		p.logger.Info("Probed service",
			slog.String("service", svc.Name),
			slog.String("status", string(r.Status)),
			slog.Duration("latency", r.Latency))
		rep.Results = append(rep.Results, r)
	}
	return rep
}

// Healthy is true only when every service answered 200.
func (r Report) Healthy() bool {
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return false
		}
	}
	return true
}

// Print writes the human-readable report.
func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "\n=== PixLand Service Health Check ===\n\n")
	for _, res := range r.Results {
		name := res.Service.Name
		switch res.Status {
		case StatusOK:
			var extra []string
			if res.Model != "" {
				extra = append(extra, "model="+res.Model)
			}
			if res.Version != "" {
				extra = append(extra, "version="+res.Version)
			}
			fmt.Fprintf(w, "  [OK]   %s  %s\n", name, strings.Join(extra, "  "))
		case StatusWarn:
			fmt.Fprintf(w, "  [WARN] %s  HTTP %d\n", name, res.Code)
		case StatusDown:
			fmt.Fprintf(w, "  [DOWN] %s  -- NOT RUNNING\n", name)
		default:
			fmt.Fprintf(w, "  [ERR]  %s  %v\n", name, res.Err)
		}
	}
	fmt.Fprintln(w)
	if r.Healthy() {
		fmt.Fprintln(w, "  All services are UP and healthy!")
	} else {
		fmt.Fprintln(w, "  Some services are DOWN. See directives/start_local.md to start them.")
	}
	fmt.Fprintln(w)
}
