package faceclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"faceattend/internal/face"
)

// Client calls a DeepFace-compatible recognition service. It implements
// face.Matcher (Verify) and face.Embedder (Embed).
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Skip     bool
	Model    string
	Detector string
	Metric   string
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Skip:     skip,
		Model:    "SFace",
		Detector: "opencv",
		Metric:   "cosine",
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

type verifyResponse struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Model     string  `json:"model"`
}

type representResponse struct {
	Results []struct {
		Embedding      []float32 `json:"embedding"`
		FaceConfidence float64   `json:"face_confidence"`
	} `json:"results"`
}

// Verify compares two stored images.
func (c *Client) Verify(ctx context.Context, probeRef, galleryRef string) (face.Verdict, error) {
	if c.Skip {
		return c.digestVerify(probeRef, galleryRef)
	}

	img1, err := dataURI(probeRef)
	if err != nil {
		return face.Verdict{}, err
	}
	img2, err := dataURI(galleryRef)
	if err != nil {
		return face.Verdict{}, err
	}

	var out verifyResponse
	err = c.post(ctx, "/verify", map[string]any{
		"img1":              img1,
		"img2":              img2,
		"model_name":        c.Model,
		"detector_backend":  c.Detector,
		"distance_metric":   c.Metric,
		"enforce_detection": true,
	}, &out)
	if err != nil {
		return face.Verdict{}, err
	}
	return face.Verdict{Verified: out.Verified, Distance: out.Distance}, nil
}

// Embed requests the embedding of the first face in a stored image.
func (c *Client) Embed(ctx context.Context, ref string) ([]float32, error) {
	if c.Skip {
		return digestVector(ref)
	}

	img, err := dataURI(ref)
	if err != nil {
		return nil, err
	}

	var out representResponse
	err = c.post(ctx, "/represent", map[string]any{
		"img":               img,
		"model_name":        c.Model,
		"detector_backend":  c.Detector,
		"enforce_detection": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 || len(out.Results[0].Embedding) == 0 {
		return nil, face.ErrNoFace
	}
	return out.Results[0].Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if noFaceMessage(string(bodyBytes)) {
			return face.ErrNoFace
		}
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func noFaceMessage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "face could not be detected") || strings.Contains(lower, "no face")
}

func dataURI(ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", ref, err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// digestVerify is the development matcher: two images verify only when their
// bytes are identical.
func (c *Client) digestVerify(a, b string) (face.Verdict, error) {
	va, err := digestVector(a)
	if err != nil {
		return face.Verdict{}, err
	}
	vb, err := digestVector(b)
	if err != nil {
		return face.Verdict{}, err
	}
	for i := range va {
		if va[i] != vb[i] {
			return face.Verdict{Verified: false, Distance: 1}, nil
		}
	}
	return face.Verdict{Verified: true, Distance: 0}, nil
}

func digestVector(ref string) ([]float32, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, face.ErrNoFace
	}
	sum := sha256.Sum256(data)
	vec := make([]float32, len(sum))
	for i, b := range sum {
		vec[i] = float32(b)/255 - 0.5
	}
	return vec, nil
}
