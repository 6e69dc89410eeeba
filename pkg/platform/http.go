package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// APIError is a non-2xx platform response. The body is kept verbatim so
// the final report can surface the platform's own diagnostic text.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Retryable reports whether the response indicates a transient condition.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Throttled reports whether the platform rate-limited the request.
func (e *APIError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests
}

// RestClient is the HTTP implementation of Client, bound to one host and
// bearer token.
type RestClient struct {
	host   string
	token  string
	client *http.Client
	log    *telemetry.Logger
}

// NewRestClient builds a client for the profile's host and token.
func NewRestClient(profile Profile, log *telemetry.Logger) *RestClient {
	return &RestClient{
		host:  strings.TrimRight(profile.Host, "/"),
		token: profile.Token,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		log: log,
	}
}

func (c *RestClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.log.Debugf("%s %s", method, path)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyExists, method, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

func (c *RestClient) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	data, err := c.do(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// CurrentUser implements Client.
func (c *RestClient) CurrentUser(ctx context.Context) (string, error) {
	var resp struct {
		UserName string `json:"user_name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/me", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.UserName, nil
}

// MkdirAll implements Client.
func (c *RestClient) MkdirAll(ctx context.Context, path string) error {
	req := struct {
		Path string `json:"path"`
	}{Path: path}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/workspace/mkdirs", nil, req, nil)
}

type fileEntryPayload struct {
	Path      string `json:"path"`
	Sha256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// ListFiles implements Client. A listing of an absent path is empty.
func (c *RestClient) ListFiles(ctx context.Context, path string) ([]FileEntry, error) {
	query := url.Values{"path": {path}, "recursive": {"true"}}
	var resp struct {
		Files []fileEntryPayload `json:"files"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/workspace/files", query, nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]FileEntry, 0, len(resp.Files))
	for _, f := range resp.Files {
		entries = append(entries, FileEntry{Path: f.Path, Sha256: f.Sha256, SizeBytes: f.SizeBytes})
	}
	return entries, nil
}

// UploadFile implements Client.
func (c *RestClient) UploadFile(ctx context.Context, path string, r io.Reader, overwrite bool) error {
	query := url.Values{"path": {path}, "overwrite": {strconv.FormatBool(overwrite)}}
	_, err := c.do(ctx, http.MethodPut, "/api/v1/workspace/files/upload", query, r, "application/octet-stream")
	return err
}

// DeleteFile implements Client.
func (c *RestClient) DeleteFile(ctx context.Context, path string) error {
	query := url.Values{"path": {path}}
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/workspace/files", query, nil, "")
	return err
}

type instancePayload struct {
	Name       string `json:"name"`
	Capacity   string `json:"capacity"`
	Status     string `json:"status"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func (p instancePayload) toInstance() *DatabaseInstance {
	return &DatabaseInstance{
		Name:       p.Name,
		Capacity:   p.Capacity,
		Status:     InstanceStatus(p.Status),
		Host:       p.Host,
		Port:       p.Port,
		Diagnostic: p.Diagnostic,
	}
}

// GetDatabaseInstance implements Client.
func (c *RestClient) GetDatabaseInstance(ctx context.Context, name string) (*DatabaseInstance, error) {
	var resp instancePayload
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/database/instances/"+url.PathEscape(name), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toInstance(), nil
}

// CreateDatabaseInstance implements Client.
func (c *RestClient) CreateDatabaseInstance(ctx context.Context, spec DatabaseInstanceSpec) (*DatabaseInstance, error) {
	req := struct {
		Name     string `json:"name"`
		Capacity string `json:"capacity"`
	}{Name: spec.Name, Capacity: spec.Capacity}
	var resp instancePayload
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/database/instances", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.toInstance(), nil
}

// UpdateDatabaseInstance implements Client.
func (c *RestClient) UpdateDatabaseInstance(ctx context.Context, name, capacity string) (*DatabaseInstance, error) {
	req := struct {
		Capacity string `json:"capacity"`
	}{Capacity: capacity}
	var resp instancePayload
	err := c.doJSON(ctx, http.MethodPatch, "/api/v1/database/instances/"+url.PathEscape(name), nil, req, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toInstance(), nil
}

// DeleteDatabaseInstance implements Client.
func (c *RestClient) DeleteDatabaseInstance(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/database/instances/"+url.PathEscape(name), nil, nil, nil)
}

// CreateSchema implements Client.
func (c *RestClient) CreateSchema(ctx context.Context, instance, schema string) error {
	req := struct {
		Name string `json:"name"`
	}{Name: schema}
	path := "/api/v1/database/instances/" + url.PathEscape(instance) + "/schemas"
	return c.doJSON(ctx, http.MethodPost, path, nil, req, nil)
}

type schemaGrantPayload struct {
	Principal string `json:"principal"`
	Privilege string `json:"privilege"`
}

// ListGrants implements Client.
func (c *RestClient) ListGrants(ctx context.Context, instance, schema string) ([]SchemaGrant, error) {
	path := "/api/v1/database/instances/" + url.PathEscape(instance) +
		"/schemas/" + url.PathEscape(schema) + "/grants"
	var resp struct {
		Grants []schemaGrantPayload `json:"grants"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	grants := make([]SchemaGrant, 0, len(resp.Grants))
	for _, g := range resp.Grants {
		grants = append(grants, SchemaGrant{Principal: g.Principal, Privilege: g.Privilege})
	}
	return grants, nil
}

// AddGrant implements Client.
func (c *RestClient) AddGrant(ctx context.Context, instance, schema string, grant SchemaGrant) error {
	path := "/api/v1/database/instances/" + url.PathEscape(instance) +
		"/schemas/" + url.PathEscape(schema) + "/grants"
	req := schemaGrantPayload{Principal: grant.Principal, Privilege: grant.Privilege}
	return c.doJSON(ctx, http.MethodPost, path, nil, req, nil)
}

// GenerateDatabaseCredential implements Client.
func (c *RestClient) GenerateDatabaseCredential(ctx context.Context, requestID, instance string) (*DatabaseCredential, error) {
	req := struct {
		RequestID string `json:"request_id"`
		Instance  string `json:"instance"`
	}{RequestID: requestID, Instance: instance}
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/database/credentials", nil, req, &resp); err != nil {
		return nil, err
	}
	return &DatabaseCredential{Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

type appPayload struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	ComputeSize      string          `json:"compute_size"`
	SourcePath       string          `json:"source_path"`
	EnvVars          []envVarPayload `json:"env_vars"`
	DatabaseInstance string          `json:"database_instance"`
	DatabaseSchema   string          `json:"database_schema"`
	Status           string          `json:"status"`
	URL              string          `json:"url,omitempty"`
	Diagnostic       string          `json:"diagnostic,omitempty"`
}

type envVarPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func appRequest(spec AppSpec) appPayload {
	payload := appPayload{
		Name:             spec.Name,
		Description:      spec.Description,
		ComputeSize:      spec.ComputeSize,
		SourcePath:       spec.SourcePath,
		DatabaseInstance: spec.DatabaseInstance,
		DatabaseSchema:   spec.DatabaseSchema,
	}
	for _, ev := range spec.EnvVars {
		payload.EnvVars = append(payload.EnvVars, envVarPayload{Name: ev.Name, Value: ev.Value})
	}
	return payload
}

func (p appPayload) toApp() *App {
	app := &App{
		Spec: AppSpec{
			Name:             p.Name,
			Description:      p.Description,
			ComputeSize:      p.ComputeSize,
			SourcePath:       p.SourcePath,
			DatabaseInstance: p.DatabaseInstance,
			DatabaseSchema:   p.DatabaseSchema,
		},
		Status:     AppStatus(p.Status),
		URL:        p.URL,
		Diagnostic: p.Diagnostic,
	}
	for _, ev := range p.EnvVars {
		app.Spec.EnvVars = append(app.Spec.EnvVars, EnvVarSpec{Name: ev.Name, Value: ev.Value})
	}
	return app
}

// GetApp implements Client.
func (c *RestClient) GetApp(ctx context.Context, name string) (*App, error) {
	var resp appPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(name), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toApp(), nil
}

// CreateApp implements Client.
func (c *RestClient) CreateApp(ctx context.Context, spec AppSpec) (*App, error) {
	var resp appPayload
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/apps", nil, appRequest(spec), &resp); err != nil {
		return nil, err
	}
	return resp.toApp(), nil
}

// UpdateApp implements Client.
func (c *RestClient) UpdateApp(ctx context.Context, name string, spec AppSpec) (*App, error) {
	var resp appPayload
	err := c.doJSON(ctx, http.MethodPut, "/api/v1/apps/"+url.PathEscape(name), nil, appRequest(spec), &resp)
	if err != nil {
		return nil, err
	}
	return resp.toApp(), nil
}

// DeleteApp implements Client.
func (c *RestClient) DeleteApp(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/apps/"+url.PathEscape(name), nil, nil, nil)
}

type appGrantPayload struct {
	Principal string `json:"principal"`
	Level     string `json:"level"`
}

// ListAppGrants implements Client.
func (c *RestClient) ListAppGrants(ctx context.Context, name string) ([]AppGrant, error) {
	var resp struct {
		Grants []appGrantPayload `json:"grants"`
	}
	path := "/api/v1/apps/" + url.PathEscape(name) + "/grants"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	grants := make([]AppGrant, 0, len(resp.Grants))
	for _, g := range resp.Grants {
		grants = append(grants, AppGrant{Principal: g.Principal, Level: g.Level})
	}
	return grants, nil
}

// AddAppGrant implements Client.
func (c *RestClient) AddAppGrant(ctx context.Context, name string, grant AppGrant) error {
	path := "/api/v1/apps/" + url.PathEscape(name) + "/grants"
	req := appGrantPayload{Principal: grant.Principal, Level: grant.Level}
	return c.doJSON(ctx, http.MethodPost, path, nil, req, nil)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
