package remoteapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"audiorelay/internal/config"
	"audiorelay/internal/extraction"
	"audiorelay/internal/httpx"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/videoref"
)

const maxBodyBytes = 1 << 20

// Service describes one third-party conversion endpoint.
type Service struct {
	Name     string
	Endpoint string
	Headers  map[string]string
	Mapper   Mapper
	Timeout  time.Duration
}

// ServiceFromConfig converts configuration into a Service.
func ServiceFromConfig(svc config.RemoteService) (Service, error) {
	mapper, err := MapperFor(svc.Mapper)
	if err != nil {
		return Service{}, fmt.Errorf("remote service %s: %w", svc.Name, err)
	}
	headers := make(map[string]string, len(svc.Headers))
	for k, v := range svc.Headers {
		headers[k] = v
	}
	return Service{
		Name:     svc.Name,
		Endpoint: svc.Endpoint,
		Headers:  headers,
		Mapper:   mapper,
		Timeout:  time.Duration(svc.TimeoutSeconds) * time.Second,
	}, nil
}

// Strategy issues a single GET against a conversion service.
type Strategy struct {
	svc    Service
	client *http.Client
	logger *slog.Logger
}

// NewStrategy builds a remote-API strategy. A nil client gets a tuned default.
func NewStrategy(svc Service, client *http.Client, logger *slog.Logger) (*Strategy, error) {
	if strings.TrimSpace(svc.Name) == "" {
		return nil, errors.New("remote service name required")
	}
	if !strings.Contains(svc.Endpoint, "{id}") {
		return nil, fmt.Errorf("remote service %s: endpoint must contain {id}", svc.Name)
	}
	if svc.Mapper == nil {
		svc.Mapper = mapGeneric
	}
	if client == nil {
		client = httpx.NewClient(0)
	}
	return &Strategy{svc: svc, client: client, logger: logging.NewComponentLogger(logger, "remoteapi")}, nil
}

func (s *Strategy) Name() string { return s.svc.Name }

func (s *Strategy) Attempt(ctx context.Context, ref videoref.Reference) (extraction.Result, error) {
	if s.svc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.svc.Timeout)
		defer cancel()
	}

	endpoint := strings.ReplaceAll(s.svc.Endpoint, "{id}", url.PathEscape(ref.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrConfiguration, "request", "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpx.UserAgent)
	for k, v := range s.svc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return extraction.Result{}, extraction.Failed(s.svc.Name, marker, "request", "GET "+redact(endpoint), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrTransient, "read", "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrUpstream, "request", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	mapped, err := s.svc.Mapper(body)
	if err != nil {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrUpstream, "decode", "unexpected response", err)
	}
	audioURL, ok := mapped.AudioURL.Get()
	if !ok {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrNotFound, "decode", "response carried no audio url", nil)
	}
	if !extraction.IsPlayableURL(audioURL) {
		return extraction.Result{}, extraction.Failed(s.svc.Name, services.ErrUpstream, "decode", fmt.Sprintf("audio url %q is not http", audioURL), nil)
	}

	logging.WithContext(ctx, s.logger).Debug("remote service returned audio",
		logging.String("service", s.svc.Name),
		logging.Int("status", resp.StatusCode),
	)
	return extraction.Result{
		AudioURL:       audioURL,
		IsDirectStream: true,
		Strategy:       s.svc.Name,
		Duration:       mapped.Duration,
		TitleHint:      mapped.Title,
	}, nil
}

// redact drops the query string so API keys passed as parameters stay out of logs.
func redact(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
