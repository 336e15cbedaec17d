package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
)

// maxBodyBytes caps a single upstream response.
const maxBodyBytes = 32 << 20

// AsyncNetworkManager is the HTTP transport of one provider. Every failure is
// returned as a *helpers.ProviderError tagged with Provider.
type AsyncNetworkManager struct {
	Config         *models.MConfig
	Provider       string
	ProxyManager   interfaces.IProxyManager
	Client         *http.Client
	Logger         *logger.Logger
	RetryBaseDelay time.Duration
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, provider string, log *logger.Logger) *AsyncNetworkManager {
	var proxies []string
	if cfg.Network.Enabled {
		proxies = cfg.Network.Proxies
	}

	nm := &AsyncNetworkManager{
		Config:         cfg,
		Provider:       provider,
		ProxyManager:   helpers.NewProxyManager(proxies, cfg.Network.UserAgent, log.Named(provider+"-proxy")),
		Logger:         log,
		RetryBaseDelay: time.Second,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	transport := &http.Transport{
		Proxy:                 nm.ProxyManager.ProxyFunc,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries on transient failures.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewProviderError(nm.Provider, helpers.ErrUpstreamUnavailable, "invalid url", err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	return nm.do(ctx, "GET "+reqURL.Path, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	})
}

// -----------------------------------------------------------------------------

// PostJSON posts body as JSON with retries on transient failures.
func (nm *AsyncNetworkManager) PostJSON(ctx context.Context, urlStr string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return nm.do(ctx, "POST "+urlStr, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, operation string, build func() (*http.Request, error)) ([]byte, error) {
	attempts := nm.Config.Network.MaxRetries + 1

	return helpers.RetryWithBackoff(ctx, nm.Logger, operation, attempts, nm.RetryBaseDelay, func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, helpers.NewProviderError(nm.Provider, helpers.ErrUpstreamUnavailable, "failed to build request", err)
		}

		// Use dynamic User-Agent
		req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())
		req.Header.Set("Accept", "application/json, text/plain, */*")

		resp, err := nm.Client.Do(req)
		if err != nil {
			if proxy, _ := nm.ProxyManager.GetCurrentProxy(); proxy != "" {
				nm.Logger.Debug("%s via %s failed: %v", operation, proxy, err)
			} else {
				nm.Logger.Debug("%s failed: %v", operation, err)
			}
			return nil, helpers.NewProviderError(nm.Provider, helpers.ErrUpstreamUnavailable, transportReason(err), err)
		}
		defer resp.Body.Close()

		if err := nm.classifyStatus(resp.StatusCode); err != nil {
			nm.Logger.Info("%s returned status %d", operation, resp.StatusCode)
			return nil, err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, helpers.NewProviderError(nm.Provider, helpers.ErrUpstreamUnavailable, "failed to read response", err)
		}
		return body, nil
	})
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized:
		return helpers.NewProviderError(nm.Provider, helpers.ErrAuthentication, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		// Blocked: switch egress for the next logical call
		if nm.ProxyManager.HasProxies() {
			nm.ProxyManager.RotateProxy()
		}
		return helpers.NewProviderError(nm.Provider, helpers.ErrRateLimit, fmt.Sprintf("blocked (status %d)", status), nil)
	case status == http.StatusNotFound:
		return helpers.NewProviderError(nm.Provider, helpers.ErrNoData, fmt.Sprintf("status %d", status), nil)
	default:
		return helpers.NewProviderError(nm.Provider, helpers.ErrUpstreamUnavailable, fmt.Sprintf("bad status: %d", status), nil)
	}
}

// -----------------------------------------------------------------------------

func transportReason(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	return "request failed"
}
