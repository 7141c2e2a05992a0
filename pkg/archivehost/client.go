package archivehost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/archive"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/retry"
	"github.com/opst/vortexflow/pkg/utils/checksum"
	"github.com/opst/vortexflow/pkg/utils/files"
)

type ClientConfig struct {
	// Scheme served by the client. Default: "http".
	Scheme string

	// BaseURL of the host, like "https://archive.example.com:8080".
	BaseURL string

	// Token is sent as a bearer token when not empty.
	Token string

	HTTPClient *http.Client
}

// Client is an archive transport talking to an archive host.
type Client struct {
	scheme string
	base   *url.URL
	token  string
	client *http.Client
}

var _ archive.Transport = &Client{}

func NewClient(conf ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(conf.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xe.Configurationf("archive host url %q is not valid", conf.BaseURL)
	}
	c := &Client{scheme: conf.Scheme, base: base, token: conf.Token, client: conf.HTTPClient}
	if c.scheme == "" {
		c.scheme = "http"
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c, nil
}

func (c *Client) Scheme() string { return c.scheme }

func (c *Client) Address(p string) string {
	u := *c.base
	u.Path = path.Join(c.base.Path, ArchivePrefix, p)
	return u.String()
}

func (c *Client) request(ctx context.Context, method string, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Address(p), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req. Network errors and 5xx/429 responses are transient.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, retry.Transient(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || http.StatusInternalServerError <= resp.StatusCode {
		defer resp.Body.Close()
		return nil, retry.Transient(statusError(req, resp))
	}
	return resp, nil
}

func statusError(req *http.Request, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL, resp.Status, strings.TrimSpace(string(msg)))
}

func (c *Client) Stat(ctx context.Context, p string) (*backends.Stat, error) {
	req, err := c.request(ctx, http.MethodHead, p, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError(req, resp)
	}
	st := &backends.Stat{Path: c.Address(p), Size: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			st.ModTime = t
		}
	}
	return st, nil
}

func (c *Client) Get(ctx context.Context, p string, local string) error {
	req, err := c.request(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", archive.ErrNotFound, c.Address(p))
	default:
		return statusError(req, resp)
	}

	f, err := files.CreateAll(local, os.FileMode(0644), os.FileMode(0755))
	if err != nil {
		return err
	}
	body := checksum.NewReader(resp.Body)
	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(local)
		return retry.Transient(err)
	}
	if sum := resp.Trailer.Get(checksum.HeaderMD5); sum != "" && sum != body.Hex() {
		os.Remove(local)
		return retry.Transient(fmt.Errorf("GET %s: checksum mismatch", c.Address(p)))
	}
	return nil
}

// trailing sets the checksum trailer of req once the body is read.
type trailing struct {
	body *checksum.Reader
	req  *http.Request
}

func (t *trailing) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if err == io.EOF {
		t.req.Trailer.Set(checksum.HeaderMD5, t.body.Hex())
	}
	return n, err
}

func (c *Client) Put(ctx context.Context, local string, p string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := c.request(ctx, http.MethodPut, p, nil)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(&trailing{body: checksum.NewReader(f), req: req})
	req.ContentLength = -1
	req.Trailer = http.Header{checksum.HeaderMD5: nil}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	return statusError(req, resp)
}

func (c *Client) Delete(ctx context.Context, p string) error {
	req, err := c.request(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", archive.ErrNotFound, c.Address(p))
	}
	return statusError(req, resp)
}
