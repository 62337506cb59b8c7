package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Detector turns an encoded frame into a detection response
type Detector interface {
	Detect(ctx context.Context, frame *types.Payload) (*types.Response, error)
}

// maxResponseBytes bounds every reply body, annotated PNGs included
const maxResponseBytes = 8 << 20

// Options configure a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Attributes bool // add ?attributes=true to detection requests
	HTTPClient *http.Client
}

// Client talks to the face recognition service
type Client struct {
	baseURL    string
	attributes bool
	http       *http.Client
}

// Health is the /health reply
type Health struct {
	KnownFacesCount int      `json:"known_faces_count"`
	Names           []string `json:"names"`
}

// Profile is one gallery entry; URL is relative to the service base
type Profile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProfileList is the /profiles reply
type ProfileList struct {
	Count    int       `json:"count"`
	Profiles []Profile `json:"profiles"`
}

// NewClient creates a Client
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		attributes: opts.Attributes,
		http:       hc,
	}
}

// BaseURL returns the service root without a trailing slash
func (c *Client) BaseURL() string { return c.baseURL }

// Detect uploads frame to /recognize
func (c *Client) Detect(ctx context.Context, frame *types.Payload) (*types.Response, error) {
	endpoint := c.baseURL + "/recognize"
	if c.attributes {
		endpoint += "?attributes=true"
	}

	body, err := c.postFrame(ctx, "recognize", endpoint, frame, nil)
	if err != nil {
		return nil, err
	}

	var resp types.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Op: "recognize", Err: err}
	}
	return &resp, nil
}

// Annotate uploads frame to /recognize/draw and returns the PNG the service
// rendered with its own boxes and names.
func (c *Client) Annotate(ctx context.Context, frame *types.Payload) ([]byte, error) {
	return c.postFrame(ctx, "recognize/draw", c.baseURL+"/recognize/draw", frame, nil)
}

// AddFace enrolls frame under name
func (c *Client) AddFace(ctx context.Context, name string, frame *types.Payload) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("add-face: name is required")
	}
	_, err := c.postFrame(ctx, "add-face", c.baseURL+"/add-face", frame, map[string]string{"name": name})
	return err
}

// ReloadKnownFaces asks the service to reread its face database and
// returns the new count.
func (c *Client) ReloadKnownFaces(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, "reload-known-faces", http.MethodPost, "/reload-known-faces", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Ping returns the service status string
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, "ping", http.MethodGet, "/ping", &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		out.Status = "ok"
	}
	return out.Status, nil
}

// Health returns the known face database summary
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, "health", http.MethodGet, "/health", &out)
	return out, err
}

// Profiles returns the gallery with thumbnail URLs made absolute
func (c *Client) Profiles(ctx context.Context) (ProfileList, error) {
	var out ProfileList
	if err := c.doJSON(ctx, "profiles", http.MethodGet, "/profiles", &out); err != nil {
		return ProfileList{}, err
	}
	for i := range out.Profiles {
		out.Profiles[i].URL = c.ResolveURL(out.Profiles[i].URL)
	}
	if out.Count == 0 {
		out.Count = len(out.Profiles)
	}
	return out, nil
}

// ResolveURL makes a service-relative path absolute. Absolute URLs pass through.
func (c *Client) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func (c *Client) postFrame(ctx context.Context, op, endpoint string, frame *types.Payload, fields map[string]string) ([]byte, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, &TransportError{Op: op, URL: endpoint, Err: fmt.Errorf("empty frame")}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, &TransportError{Op: op, URL: endpoint, Err: err}
		}
	}

	filename := frame.Filename
	if filename == "" {
		filename = "frame.png"
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(op, req)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, out any) error {
	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	endpoint := req.URL.String()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         op,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return body, nil
}
