package dns

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	appErr "github.com/neko-do/engine/pkg/errors"
)

const defaultBaseURL = "https://api.digitalocean.com/v2"

// DigitalOcean implements Provider against the domains API.
type DigitalOcean struct {
	client *resty.Client
}

// NewDigitalOcean builds a DNS client. baseURL is overridable for tests;
// pass "" for the production endpoint.
func NewDigitalOcean(token, baseURL string) *DigitalOcean {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &DigitalOcean{client: c}
}

func (d *DigitalOcean) CreateRecord(ctx context.Context, zone string, spec RecordSpec) (int64, error) {
	ttl := spec.TTL
	if ttl == 0 {
		ttl = 300
	}
	var out struct {
		DomainRecord struct {
			ID int64 `json:"id"`
		} `json:"domain_record"`
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"type": spec.Type,
			"name": spec.Name,
			"data": spec.Data,
			"ttl":  ttl,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/domains/%s/records", zone))
	if err := classify(resp, err, "create dns record"); err != nil {
		return 0, err
	}
	return out.DomainRecord.ID, nil
}

func (d *DigitalOcean) DeleteRecord(ctx context.Context, zone string, recordID int64) error {
	resp, err := d.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/domains/%s/records/%d", zone, recordID))
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return classify(resp, err, "delete dns record")
}

func classify(resp *resty.Response, err error, op string) error {
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, op+" failed")
	}
	if resp == nil {
		return appErr.New(appErr.CodeUnavailable, op+" returned no response")
	}
	code := resp.StatusCode()
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return appErr.New(appErr.CodeUnavailable, fmt.Sprintf("%s failed with status %d", op, code))
	default:
		return appErr.New(appErr.CodeInvalid, fmt.Sprintf("%s rejected with status %d: %s", op, code, resp.String()))
	}
}
