// Package upload stores log artifacts on a gofile-style file host and returns
// the page the file can be retrieved from.
package upload

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is the file host API
	DefaultAPIURL = "https://api.gofile.io"

	// DefaultServerURL is the per-server upload host; {server} is replaced
	// with the server name returned by the API
	DefaultServerURL = "https://{server}.gofile.io"

	// DefaultZone selects the server region
	DefaultZone = "eu"

	defaultTimeout   = 20 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the file host rejected the upload token.
var ErrUnauthorized = errors.New("artifact upload unauthorized")

// ErrInvalidResponse indicates the file host returned a malformed payload.
var ErrInvalidResponse = errors.New("artifact upload invalid response")

// ErrUploadFailed indicates the file host reported a failed upload.
var ErrUploadFailed = errors.New("artifact upload failed")

// Uploader stores a local file remotely under name and returns its URL
type Uploader interface {
	Upload(ctx context.Context, path, name string) (string, error)
}

// Options configures an HTTPUploader
type Options struct {
	APIURL    string
	ServerURL string
	Token     string
	FolderID  string
	Zone      string
	Client    *http.Client

	// Direct posts to {APIURL}/uploadfile without asking for a server
	Direct bool
}

// HTTPUploader uploads to a gofile-style API. Every upload is a single
// attempt; callers decide what a failure means.
type HTTPUploader struct {
	apiURL    string
	serverURL string
	token     string
	folderID  string
	zone      string
	direct    bool
	client    *http.Client
}

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type serversData struct {
	Servers []struct {
		Name string `json:"name"`
		Zone string `json:"zone"`
	} `json:"servers"`
}

type uploadData struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DownloadPage string `json:"downloadPage"`
}

// NewHTTPUploader creates an uploader. A client without a timeout gets the
// default 20s request timeout.
func NewHTTPUploader(opts Options) *HTTPUploader {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	serverURL := strings.TrimRight(strings.TrimSpace(opts.ServerURL), "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	zone := opts.Zone
	if zone == "" {
		zone = DefaultZone
	}
	client := &http.Client{Timeout: defaultTimeout}
	if opts.Client != nil {
		c := *opts.Client
		if c.Timeout == 0 {
			c.Timeout = defaultTimeout
		}
		client = &c
	}
	return &HTTPUploader{
		apiURL:    apiURL,
		serverURL: serverURL,
		token:     strings.TrimSpace(opts.Token),
		folderID:  opts.FolderID,
		zone:      zone,
		direct:    opts.Direct,
		client:    client,
	}
}

// Upload sends the file at path to the least loaded server and returns the
// download page URL
func (u *HTTPUploader) Upload(ctx context.Context, path, name string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	endpoint := u.apiURL + "/uploadfile"
	if !u.direct {
		server, err := u.pickServer(ctx)
		if err != nil {
			return "", err
		}
		endpoint = strings.ReplaceAll(u.serverURL, "{server}", server) + "/contents/uploadfile"
	}

	data, err := u.uploadFile(ctx, endpoint, name, content)
	if err != nil {
		return "", err
	}
	if data.DownloadPage == "" {
		return "", fmt.Errorf("%w: missing download page", ErrInvalidResponse)
	}
	return data.DownloadPage, nil
}

func (u *HTTPUploader) pickServer(ctx context.Context) (string, error) {
	endpoint := u.apiURL + "/servers?zone=" + url.QueryEscape(u.zone)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build servers request: %w", err)
	}

	var data serversData
	if err := u.do(req, &data); err != nil {
		return "", fmt.Errorf("list upload servers: %w", err)
	}
	if len(data.Servers) == 0 || data.Servers[0].Name == "" {
		return "", fmt.Errorf("%w: no upload server available", ErrInvalidResponse)
	}
	return data.Servers[0].Name, nil
}

func (u *HTTPUploader) uploadFile(ctx context.Context, endpoint, name string, content []byte) (*uploadData, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if u.folderID != "" {
		if err := mw.WriteField("folderId", u.folderID); err != nil {
			return nil, fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var data uploadData
	if err := u.do(req, &data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return &data, nil
}

// do sends req and decodes the data member of the API envelope into out
func (u *HTTPUploader) do(req *http.Request, out any) error {
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if envelope.Status != "ok" {
		return fmt.Errorf("%w: status %q", ErrUploadFailed, envelope.Status)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	default:
		return fmt.Errorf("%w: %s", ErrUploadFailed, summary)
	}
}

// ArtifactName derives the remote file name from the log content, so
// identical content always gets the same name
func ArtifactName(module string, content []byte) string {
	sum := sha1.Sum(content)
	return module + "_" + hex.EncodeToString(sum[:]) + ".log"
}
