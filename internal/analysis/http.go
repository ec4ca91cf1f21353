package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	// FormField is the multipart field the service reads the image from.
	FormField       = "image"
	maxResponseSize = 8 << 20
)

// HTTPClient posts snapshots as multipart/form-data.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	log      *logrus.Logger
}

// NewHTTPClient builds a client for endpoint. A zero timeout means none.
func NewHTTPClient(endpoint string, timeout time.Duration, log *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, snap *types.Snapshot) types.Result {
	start := time.Now()
	data, err := c.post(ctx, snap.FileName(), snap.PNG())
	if err != nil {
		return types.TransportError{Detail: "analysis request failed", Err: err}
	}

	res := Decode(data)
	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"snapshot_id": snap.ID().String(),
			"outcome":     types.Outcome(res),
			"elapsed":     time.Since(start).String(),
		}).Debug("analysis response received")
	}
	return res
}

// Wake sends a blank frame so a sleeping endpoint spins up before the first capture.
// The answer is irrelevant; only reachability errors are reported.
func (c *HTTPClient) Wake(ctx context.Context) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		return err
	}
	name := fmt.Sprintf("webcam_%d.png", time.Now().UnixMilli())
	_, err := c.post(ctx, name, buf.Bytes())
	var se statusError
	if errors.As(err, &se) {
		return nil
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *HTTPClient) post(ctx context.Context, fileName string, payload []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(FormField, fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError{code: resp.StatusCode, body: excerpt(data)}
	}
	return data, nil
}
