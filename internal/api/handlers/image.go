package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errNoImage       = errors.New("image is required")
	errImageTooLarge = errors.New("image too large")
)

// Room for form fields and multipart or JSON framing around the image.
const uploadOverhead = 64 << 10

// uploadStatus maps a readUpload error to a response status.
func uploadStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.Is(err, errImageTooLarge) || errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// imageRequest is the JSON alternative to a multipart upload. Image is raw
// base64 or a data URL.
type imageRequest struct {
	Name      string `json:"name"`
	Service   string `json:"service"`
	Type      string `json:"type"`
	Arrival   string `json:"arrival"`
	Departure string `json:"departure"`
	Async     bool   `json:"async"`
	Image     string `json:"image"`
}

// readUpload accepts multipart/form-data (file field "image") or JSON.
func readUpload(c *gin.Context, maxBytes int64) (imageRequest, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+uploadOverhead)
		if err := c.Request.ParseMultipartForm(maxBytes); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return imageRequest{}, nil, errImageTooLarge
			}
			return imageRequest{}, nil, err
		}
		req := imageRequest{
			Name:      c.PostForm("name"),
			Service:   c.PostForm("service"),
			Type:      c.PostForm("type"),
			Arrival:   c.PostForm("arrival"),
			Departure: c.PostForm("departure"),
			Async:     c.PostForm("async") == "true" || c.Query("async") == "true",
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return req, nil, errNoImage
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			return req, nil, err
		}
		if int64(len(data)) > maxBytes {
			return req, nil, errImageTooLarge
		}
		return req, data, nil
	}

	// base64 inflates by 4/3.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes/3*4+4+uploadOverhead)
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, nil, errImageTooLarge
		}
		return req, nil, err
	}
	if c.Query("async") == "true" {
		req.Async = true
	}
	payload := req.Image
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return req, nil, errNoImage
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return req, nil, errors.New("image must be base64 encoded")
	}
	if int64(len(data)) > maxBytes {
		return req, nil, errImageTooLarge
	}
	return req, data, nil
}
