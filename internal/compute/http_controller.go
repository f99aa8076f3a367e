package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Config конфигурация для клиента API провайдера
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// httpController реализует ResourceController поверх REST API провайдера
type httpController struct {
	baseURL  string
	apiToken string
	client   *http.Client
	log      *logger.Logger
}

// NewHTTPController создает новый клиент API провайдера
func NewHTTPController(cfg Config, log *logger.Logger) ResourceController {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &httpController{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// powerStateResponse тело ответа провайдера на запрос состояния питания
type powerStateResponse struct {
	State string `json:"state"`
}

// GetPowerState запрашивает живое состояние питания ресурса
func (c *httpController) GetPowerState(ctx context.Context, providerID string) (PowerStatus, error) {
	var response powerStateResponse

	err := c.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/servers/%s/power", providerID), &response)
	if err != nil {
		return PowerStatus{State: domain.PowerStateUnknown}, domain.NewResourceControllerError("power_state", providerID, "failed to query power state", err)
	}

	return PowerStatus{State: parsePowerState(response.State), Raw: response.State}, nil
}

// Start запускает ресурс
func (c *httpController) Start(ctx context.Context, providerID string) error {
	if err := c.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/servers/%s/start", providerID), nil); err != nil {
		return domain.NewResourceControllerError("start", providerID, "failed to start server", err)
	}

	c.log.Infow("Server start command issued", "providerID", providerID)
	return nil
}

// Stop останавливает ресурс
func (c *httpController) Stop(ctx context.Context, providerID string) error {
	if err := c.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/servers/%s/stop", providerID), nil); err != nil {
		return domain.NewResourceControllerError("stop", providerID, "failed to stop server", err)
	}

	c.log.Infow("Server stop command issued", "providerID", providerID)
	return nil
}

// Destroy уничтожает ресурс у провайдера. Операция необратима.
func (c *httpController) Destroy(ctx context.Context, providerID string) error {
	if err := c.doWithRetry(ctx, http.MethodDelete, fmt.Sprintf("/servers/%s", providerID), nil); err != nil {
		return domain.NewResourceControllerError("destroy", providerID, "failed to destroy server", err)
	}

	c.log.Infow("Server destroy command issued", "providerID", providerID)
	return nil
}

// doWithRetry выполняет запрос к API провайдера с экспоненциальным backoff
func (c *httpController) doWithRetry(ctx context.Context, method, path string, out interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			c.log.Warnw("Provider API request failed, retrying", "method", method, "path", path, "error", err)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode provider response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("provider resource not found: %s", path))
		case resp.StatusCode >= 500:
			c.log.Warnw("Provider API returned server error, retrying", "method", method, "path", path, "status", resp.StatusCode)
			return fmt.Errorf("provider API error: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("provider API error: status %d", resp.StatusCode))
		}
	}, policy)
}

// parsePowerState нормализует строку состояния провайдера
func parsePowerState(raw string) domain.PowerState {
	switch strings.ToLower(raw) {
	case "started", "running", "on":
		return domain.PowerStateStarted
	case "stopped", "off":
		return domain.PowerStateStopped
	case "building", "provisioning":
		return domain.PowerStateBuilding
	default:
		return domain.PowerStateUnknown
	}
}
