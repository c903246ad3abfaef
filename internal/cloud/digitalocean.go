package cloud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	appErr "github.com/neko-do/engine/pkg/errors"
)

const defaultBaseURL = "https://api.digitalocean.com/v2"

// DigitalOcean implements Provider against the droplets API.
type DigitalOcean struct {
	client *resty.Client
}

// NewDigitalOcean builds a provider client. baseURL is overridable for tests;
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

type dropletEnvelope struct {
	Droplet struct {
		ID       int64  `json:"id"`
		Status   string `json:"status"`
		Networks struct {
			V4 []struct {
				IPAddress string `json:"ip_address"`
				Type      string `json:"type"`
			} `json:"v4"`
		} `json:"networks"`
	} `json:"droplet"`
}

func (d *DigitalOcean) CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	body := map[string]any{
		"name":       spec.Name,
		"region":     spec.Region,
		"size":       spec.Size,
		"image":      spec.Image,
		"ssh_keys":   []string{spec.SSHKeyID},
		"user_data":  spec.UserData,
		"monitoring": true,
		"tags":       spec.Tags,
	}
	var out dropletEnvelope
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/droplets")
	if err := classify(resp, err, "create droplet"); err != nil {
		return nil, err
	}
	return &Instance{ID: out.Droplet.ID}, nil
}

func (d *DigitalOcean) DeleteInstance(ctx context.Context, instanceID int64) error {
	resp, err := d.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/droplets/%d", instanceID))
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		// already gone; deletion is idempotent
		return nil
	}
	return classify(resp, err, "delete droplet")
}

func (d *DigitalOcean) GetInstanceStatus(ctx context.Context, instanceID int64) (*InstanceStatus, error) {
	var out dropletEnvelope
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/droplets/%d", instanceID))
	if err := classify(resp, err, "get droplet"); err != nil {
		return nil, err
	}
	st := &InstanceStatus{State: out.Droplet.Status}
	for _, n := range out.Droplet.Networks.V4 {
		if n.Type == "public" {
			st.IP = n.IPAddress
			break
		}
	}
	return st, nil
}

func (d *DigitalOcean) AssociateWithProject(ctx context.Context, projectID string, instanceID int64) error {
	body := map[string]any{
		"resources": []string{fmt.Sprintf("do:droplet:%d", instanceID)},
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/projects/%s/resources", projectID))
	return classify(resp, err, "associate droplet with project")
}

func (d *DigitalOcean) FindProjectByName(ctx context.Context, name string) (string, error) {
	var out struct {
		Projects []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"projects"`
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/projects")
	if err := classify(resp, err, "list projects"); err != nil {
		return "", err
	}
	for _, p := range out.Projects {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return "", appErr.New(appErr.CodeNotFound, fmt.Sprintf("project %q not found", name))
}

// classify maps transport and HTTP failures onto the error taxonomy:
// network errors and 5xx/429 are transient, other 4xx are fatal rejections.
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
	case code == http.StatusNotFound:
		return appErr.New(appErr.CodeNotFound, fmt.Sprintf("%s: resource not found", op))
	default:
		return appErr.New(appErr.CodeInvalid, fmt.Sprintf("%s rejected with status %d: %s", op, code, resp.String()))
	}
}
