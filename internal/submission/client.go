// Package submission sends a prepared image collection to the listings API.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/imageset"
)

// Form field names understood by the listing images endpoint.
const (
	FieldFeatureImageID  = "featureImageId"
	FieldHasFeatureImage = "hasFeatureImage"
	FieldImageInfo       = "imageInfo"
	FieldImagesDeleted   = "imagesDeleted"
	FieldImageRefs       = "imageRefs"
	FieldImages          = "images"
)

// Target receives a finished submission for a listing.
type Target interface {
	Submit(ctx context.Context, listingID uuid.UUID, payload imageset.SubmissionPayload) error
}

// Opener returns the content of a new image by its upload URI.
type Opener func(uri string) (io.ReadCloser, error)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submission rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("submission rejected with status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	open       Opener
	token      string
}

type Option func(*Client)

// WithBearerToken sends token as the Authorization header of every submission.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, timeout time.Duration, open Opener, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		open:       open,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit streams payload as multipart/form-data to
// {baseURL}/api/v1/listings/{id}/images.
func (c *Client) Submit(ctx context.Context, listingID uuid.UUID, payload imageset.SubmissionPayload) error {
	endpoint := fmt.Sprintf("%s/api/v1/listings/%s/images", c.baseURL, url.PathEscape(listingID.String()))

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, payload))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit listing %s: %w", listingID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	log.Ctx(ctx).Info().
		Str("listing_id", listingID.String()).
		Int("uploads", len(payload.ImagesToUpload)).
		Int("deleted", len(payload.ImagesDeleted)).
		Dur("took", time.Since(start)).
		Msg("submission accepted")
	return nil
}

func (c *Client) writeForm(mw *multipart.Writer, p imageset.SubmissionPayload) error {
	refs := make([]string, 0, len(p.ImagesToUpload))
	for _, d := range p.ImagesToUpload {
		refs = append(refs, d.URI)
	}

	fields := []struct {
		name  string
		value any
	}{
		{FieldImageInfo, p.ImageInfo},
		{FieldImagesDeleted, p.ImagesDeleted},
		{FieldImageRefs, refs},
	}
	if err := mw.WriteField(FieldFeatureImageID, p.FeatureImageID); err != nil {
		return err
	}
	if err := mw.WriteField(FieldHasFeatureImage, strconv.FormatBool(p.HasFeatureImage)); err != nil {
		return err
	}
	for _, f := range fields {
		raw, err := json.Marshal(f.value)
		if err != nil {
			return err
		}
		if err := mw.WriteField(f.name, string(raw)); err != nil {
			return err
		}
	}

	for _, d := range p.ImagesToUpload {
		if err := c.writeFile(mw, d); err != nil {
			return err
		}
	}
	return mw.Close()
}

func (c *Client) writeFile(mw *multipart.Writer, d imageset.UploadDescriptor) error {
	rc, err := c.open(d.URI)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.Name, err)
	}
	defer rc.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldImages, d.Name))
	h.Set("Content-Type", d.Type)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, rc)
	return err
}

func errorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}
