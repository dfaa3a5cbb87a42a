// Package client talks to a running sketchbook server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non 2xx answer of the server.
type APIError struct {
	StatusCode int
	Message    string
	// partial build output of a timed out upload
	Output string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sketchbook server: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	host       string
	httpClient *http.Client
}

// BuildOutput is the answer of an upload.
type BuildOutput struct {
	Output   string
	Status   string
	ExitCode int
}

func NewClient(host string) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			// the root redirect is part of the api, do not follow it
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Client) url(path string) string {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   path,
	}
	return u.String()
}

// Save stores code under name. isNew mirrors the editor's "new sketch" flag.
func (c *Client) Save(ctx context.Context, name, code string, isNew bool) (string, error) {
	body, _, err := c.postForm(ctx, "/save", url.Values{
		"name":  []string{name},
		"isNew": []string{strconv.FormatBool(isNew)},
		"code":  []string{code},
	})
	return body, err
}

func (c *Client) Load(ctx context.Context, name string) (string, error) {
	body, _, err := c.postForm(ctx, "/load", url.Values{
		"name": []string{name},
	})
	return body, err
}

// Upload sends code to the build toolchain and returns the compiler output.
func (c *Client) Upload(ctx context.Context, code string) (*BuildOutput, error) {
	body, header, err := c.postForm(ctx, "/upload", url.Values{
		"code": []string{code},
	})
	if err != nil {
		return nil, err
	}
	out := &BuildOutput{
		Output: body,
		Status: header.Get("X-Build-Status"),
	}
	if v := header.Get("X-Build-Exit-Code"); v != "" {
		out.ExitCode, _ = strconv.Atoi(v)
	}
	return out, nil
}

func (c *Client) LoadForm(ctx context.Context) (string, error) {
	return c.get(ctx, "/load_form")
}

func (c *Client) SaveForm(ctx context.Context) (string, error) {
	return c.get(ctx, "/save_form")
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return "", err
	}
	body, _, err := c.do(req)
	return body, err
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var decoded struct {
			Error  string `json:"error"`
			Output string `json:"output"`
		}
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
			apiErr.Output = decoded.Output
		}
		return "", resp.Header, apiErr
	}
	return string(body), resp.Header, nil
}
