// Package testutil provides an HTTP API client, fake messaging providers and
// assertion helpers for loyaltydesk tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// Client is an HTTP client for the loyaltydesk API in tests.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token is sent as a bearer token when set.
	Token string
	t     *testing.T
}

// NewClient creates a client pointed at a test server.
func NewClient(t *testing.T, server *httptest.Server) *Client {
	return &Client{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		t:          t,
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

// Response wraps an HTTP response with helper methods.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the response body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// Data returns the "data" member of a page envelope or a single-item
// response as a map.
func (r *Response) Data() map[string]any {
	r.t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	r.JSON(&env)
	return env.Data
}

// List returns the "data" array of a page envelope.
func (r *Response) List() []map[string]any {
	r.t.Helper()
	var env struct {
		Data []map[string]any `json:"data"`
	}
	r.JSON(&env)
	return env.Data
}

// ErrorCode returns error.code from an error response.
func (r *Response) ErrorCode() string {
	r.t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	r.JSON(&env)
	return env.Error.Code
}

// AssertStatus asserts the response has the expected status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	assert.Equalf(r.t, expected, r.StatusCode, "body: %s", r.Body)
	return r
}

// AssertBodyContains asserts the response body contains the given substring.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	assert.Contains(r.t, string(r.Body), substr)
	return r
}

// AssertBodyNotContains asserts the response body does not contain substr.
func (r *Response) AssertBodyNotContains(substr string) *Response {
	r.t.Helper()
	assert.NotContains(r.t, string(r.Body), substr)
	return r
}

// Field returns a gjson path from the response body, e.g. "data.points_balance".
func (r *Response) Field(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

type requestOpt func(*http.Request)

func withHeaders(h map[string]string) requestOpt {
	return func(req *http.Request) {
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
}

func jsonBody(t *testing.T, body any) (io.Reader, requestOpt) {
	t.Helper()
	if body == nil {
		return nil, func(*http.Request) {}
	}
	data, err := json.Marshal(body)
	require.NoError(t, err, "marshal body")
	return bytes.NewReader(data), func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.send(http.MethodGet, path, nil)
}

func (c *Client) Post(path string, body any) *Response {
	c.t.Helper()
	rdr, opt := jsonBody(c.t, body)
	return c.send(http.MethodPost, path, rdr, opt)
}

func (c *Client) Put(path string, body any) *Response {
	c.t.Helper()
	rdr, opt := jsonBody(c.t, body)
	return c.send(http.MethodPut, path, rdr, opt)
}

func (c *Client) Patch(path string, body any) *Response {
	c.t.Helper()
	rdr, opt := jsonBody(c.t, body)
	return c.send(http.MethodPatch, path, rdr, opt)
}

func (c *Client) Delete(path string) *Response {
	c.t.Helper()
	return c.send(http.MethodDelete, path, nil)
}

// PostForm performs a form-encoded POST with extra headers.
func (c *Client) PostForm(path string, form url.Values, headers map[string]string) *Response {
	c.t.Helper()
	return c.send(http.MethodPost, path, strings.NewReader(form.Encode()),
		withHeaders(map[string]string{"Content-Type": "application/x-www-form-urlencoded"}),
		withHeaders(headers))
}

// PostRaw posts body as-is with the given content type and headers.
func (c *Client) PostRaw(path, contentType string, body []byte, headers map[string]string) *Response {
	c.t.Helper()
	return c.send(http.MethodPost, path, bytes.NewReader(body),
		withHeaders(map[string]string{"Content-Type": contentType}),
		withHeaders(headers))
}

// Upload posts a multipart form with one file field and extra fields.
func (c *Client) Upload(path, field, filename string, content []byte, fields map[string]string) *Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(c.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(c.t, err)
	_, err = fw.Write(content)
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())
	return c.PostRaw(path, mw.FormDataContentType(), buf.Bytes(), nil)
}

// DoWithHeaders performs a JSON request with custom headers.
func (c *Client) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	rdr, opt := jsonBody(c.t, body)
	return c.send(method, path, rdr, opt, withHeaders(headers))
}

func (c *Client) send(method, path string, body io.Reader, opts ...requestOpt) *Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	require.NoError(c.t, err, "build request")
	for _, opt := range opts {
		opt(req)
	}
	if c.Token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	require.NoError(c.t, err, "%s %s", method, path)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err, "read response")
	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header, t: c.t}
}

// Login authenticates against /api/auth/login and returns a client that
// carries the issued token.
func (c *Client) Login(email, password string) *Client {
	c.t.Helper()
	resp := c.Post("/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equalf(c.t, http.StatusOK, resp.StatusCode, "login %s: %s", email, resp.Body)
	token := resp.Field("token").String()
	require.NotEmpty(c.t, token, "login returned no token")
	return c.WithToken(token)
}

// AdminClient wraps the /admin/* demo control plane.
type AdminClient struct {
	*Client
}

// NewAdminClient creates an admin client from an API client.
func NewAdminClient(c *Client) *AdminClient {
	return &AdminClient{c}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state with the given state data.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// AdvanceTime calls POST /admin/time/advance.
func (ac *AdminClient) AdvanceTime(duration string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": duration})
}

// RunJob calls POST /admin/jobs/{name}.
func (ac *AdminClient) RunJob(name string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/jobs/"+name, nil)
}

func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
