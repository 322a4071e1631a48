package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designanalyzer/api/internal/config"
	"github.com/designanalyzer/api/internal/model"
)

func TestScreenshotClient_Capture(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/capture", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req CaptureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com", req.URL)
		assert.True(t, req.FullPage)

		_ = json.NewEncoder(w).Encode(CaptureResponse{
			ImageBase64: base64.StdEncoding.EncodeToString(png),
			Width:       1440,
			Height:      900,
		})
	}))
	defer srv.Close()

	c := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL + "/", APIKey: "secret"})
	require.True(t, c.IsConfigured())

	shot, err := c.Capture(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", shot.PageURL)
	assert.Equal(t, png, shot.Image)
	assert.Equal(t, 1440, shot.Width)
	assert.False(t, shot.CapturedAt.IsZero())
}

func TestScreenshotClient_CaptureErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("browser crashed"))
		}))
		defer srv.Close()

		_, err := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL}).Capture(context.Background(), "https://example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
		assert.Contains(t, err.Error(), "browser crashed")
	})

	t.Run("no image", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"width": 10}`))
		}))
		defer srv.Close()

		_, err := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL}).Capture(context.Background(), "https://example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no image")
	})
}

func TestScreenshotClient_CaptureDownloadsImageURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/capture", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CaptureResponse{ImageURL: srv.URL + "/shots/1.png", Width: 800, Height: 600})
	})
	mux.HandleFunc("/shots/1.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	})

	shot, err := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL}).Capture(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/shots/1.png", shot.ImageURL)
	assert.Equal(t, []byte("png-bytes"), shot.Image)
}

func TestScreenshotClient_CaptureTooLarge(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/capture", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CaptureResponse{ImageURL: srv.URL + "/shots/big.png"})
	})
	mux.HandleFunc("/shots/big.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	})
	mux.HandleFunc("/inline/capture", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CaptureResponse{ImageBase64: base64.StdEncoding.EncodeToString(make([]byte, 64))})
	})

	c := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL})
	c.maxImage = 32

	_, err := c.Capture(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "screenshot exceeds")

	inline := NewScreenshotClient(&config.ServiceConfig{ServiceURL: srv.URL + "/inline"})
	inline.maxImage = 32

	_, err = inline.Capture(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrTooLarge)

	// exactly at the limit is accepted
	c.maxImage = 64
	shot, err := c.Capture(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Len(t, shot.Image, 64)
}

func TestServiceClient_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"elements": [{"id": "a"}, {"id": "b"}, {"id": "c"}]}`))
	}))
	defer srv.Close()

	c := NewDetectionClient(&config.ServiceConfig{ServiceURL: srv.URL})
	c.maxResponse = 16

	_, err := c.Detect(context.Background(), &model.Screenshot{ImageURL: "https://cdn.example.com/shot.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "detection service")
}

func TestScreenshotClient_NotConfigured(t *testing.T) {
	assert.False(t, NewScreenshotClient(&config.ServiceConfig{}).IsConfigured())
}

func TestDetectionClient_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)

		var req DetectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn.example.com/shot.png", req.ImageURL)
		assert.Empty(t, req.ImageBase64)

		_, _ = w.Write([]byte(`{"elements": [
			{"id": "hero", "kind": "text", "box": {"x": 0, "y": 0, "width": 100, "height": 40}, "confidence": 0.9},
			{"kind": "button", "label": "Buy", "box": {"x": 10, "y": 50, "width": 80, "height": 30}, "confidence": 0.8}
		]}`))
	}))
	defer srv.Close()

	c := NewDetectionClient(&config.ServiceConfig{ServiceURL: srv.URL})
	elements, err := c.Detect(context.Background(), &model.Screenshot{ImageURL: "https://cdn.example.com/shot.png", Width: 1440, Height: 900})
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "hero", elements[0].ID)
	assert.Equal(t, "el-2", elements[1].ID)
	assert.Equal(t, model.ElementButton, elements[1].Kind)
	assert.Equal(t, 30, elements[1].Box.Height)
}

func TestDetectionClient_DetectWithoutImage(t *testing.T) {
	c := NewDetectionClient(&config.ServiceConfig{ServiceURL: "http://unused"})
	_, err := c.Detect(context.Background(), &model.Screenshot{})
	require.Error(t, err)
}

type fakeCompleter struct {
	body    azopenai.ChatCompletionsOptions
	content *string
	err     error
}

func (f *fakeCompleter) GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error) {
	f.body = body
	if f.err != nil {
		return azopenai.GetChatCompletionsResponse{}, f.err
	}
	var resp azopenai.GetChatCompletionsResponse
	resp.Choices = []azopenai.ChatChoice{{Message: &azopenai.ChatResponseMessage{Content: f.content}}}
	return resp, nil
}

func TestVisionClient_Review(t *testing.T) {
	fake := &fakeCompleter{content: to.Ptr("Here you go:\n```json\n{\"summary\": \"Busy header\", \"findings\": [{\"area\": \"header\", \"comment\": \"too many links\"}]}\n```")}
	c := &VisionClient{client: fake, deployment: "gpt-4o", maxTokens: 256}

	review, err := c.Review(context.Background(), &model.Screenshot{PageURL: "https://example.com", Image: []byte{1, 2, 3}}, []model.EnrichedElement{
		{Element: model.Element{ID: "el-1", Kind: model.ElementButton, Label: "Buy"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", review.Model)
	assert.Equal(t, "Busy header", review.Summary)
	require.Len(t, review.Findings, 1)
	assert.Equal(t, "header", review.Findings[0].Area)

	require.NotNil(t, fake.body.DeploymentName)
	assert.Equal(t, "gpt-4o", *fake.body.DeploymentName)
	assert.Len(t, fake.body.Messages, 2)
}

func TestVisionClient_ReviewPlainText(t *testing.T) {
	fake := &fakeCompleter{content: to.Ptr("  Looks clean overall.  ")}
	c := &VisionClient{client: fake, deployment: "gpt-4o"}

	review, err := c.Review(context.Background(), &model.Screenshot{ImageURL: "https://cdn.example.com/a.png"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Looks clean overall.", review.Summary)
	assert.Empty(t, review.Findings)
}

func TestVisionClient_ReviewErrors(t *testing.T) {
	c := &VisionClient{client: &fakeCompleter{err: errors.New("429 too many requests")}, deployment: "gpt-4o"}
	_, err := c.Review(context.Background(), &model.Screenshot{ImageURL: "https://cdn.example.com/a.png"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	c = &VisionClient{client: &fakeCompleter{}, deployment: "gpt-4o"}
	_, err = c.Review(context.Background(), &model.Screenshot{ImageURL: "https://cdn.example.com/a.png"}, nil)
	require.Error(t, err)

	_, err = c.Review(context.Background(), &model.Screenshot{}, nil)
	require.Error(t, err)
}

func TestNewVisionClient_Unconfigured(t *testing.T) {
	c, err := NewVisionClient(&config.VisionConfig{Deployment: "gpt-4o"})
	require.NoError(t, err)
	assert.False(t, c.IsConfigured())

	_, err = c.Review(context.Background(), &model.Screenshot{ImageURL: "x"}, nil)
	assert.Error(t, err)
}

func TestNewR2Client(t *testing.T) {
	_, err := NewR2Client(&config.R2Config{AccountID: "acc"})
	require.Error(t, err)

	c, err := NewR2Client(&config.R2Config{
		AccountID:       "acc",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "reports",
		PublicURL:       "https://cdn.example.com/",
	})
	require.NoError(t, err)
	assert.True(t, c.IsConfigured())
	assert.Equal(t, "https://cdn.example.com/reports/job-1.json", c.GetPublicURL("reports/job-1.json"))
}

func TestR2Client_PublicURLFallback(t *testing.T) {
	c := &R2Client{bucketName: "reports"}
	assert.Equal(t, "https://reports.r2.cloudflarestorage.com/a.json", c.GetPublicURL("a.json"))

	var nilClient *R2Client
	assert.False(t, nilClient.IsConfigured())
}
