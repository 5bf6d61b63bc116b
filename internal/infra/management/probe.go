package management

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Probe asks a broker management API how many bindings have an exchange as source:
// GET {protocol}://{host}:{port}/api/exchanges/{vhost}/{topic}/bindings/source
type Probe struct {
	baseURL  string
	vhost    string
	user     string
	password string
	client   *http.Client
}

type Config struct {
	Protocol string
	Host     string
	Port     int
	VHost    string
	User     string
	Password string
}

func NewProbe(cfg Config) *Probe {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "http"
	}
	host := cfg.Host
	if cfg.Port > 0 {
		host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	return &Probe{
		baseURL:  protocol + "://" + host,
		vhost:    vhost,
		user:     cfg.User,
		password: cfg.Password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Bindings returns the length of the bindings array. Any transport or decoding
// failure is returned to the caller, which decides how to treat it.
func (p *Probe) Bindings(ctx context.Context, topic string) (int, error) {
	endpoint := fmt.Sprintf("%s/api/exchanges/%s/%s/bindings/source",
		p.baseURL, url.PathEscape(p.vhost), url.PathEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	if p.user != "" {
		req.SetBasicAuth(p.user, p.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("management api returned %s", resp.Status)
	}

	var bindings []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&bindings); err != nil {
		return 0, fmt.Errorf("decode bindings: %w", err)
	}
	return len(bindings), nil
}
