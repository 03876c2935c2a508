package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// minTokenConfidence filters low-certainty OCR detections.
const minTokenConfidence = 0.5

// Engine is one OCR back-end. Initialize is called once before first
// use; ExtractText returns the recognized text or an error.
type Engine interface {
	Name() string
	Initialize(languages []string, useGPU bool) error
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// OCRConfig selects and configures the OCR engine.
type OCRConfig struct {
	Provider  string // auto | paddleocr | easyocr | vision-llm
	Languages []string
	UseGPU    bool

	// Service endpoints.
	PaddleURL   string
	EasyURL     string
	VisionURL   string
	VisionModel string

	Logger hclog.Logger
}

// NewEngine resolves the configured provider. In auto mode the
// higher-accuracy engine is preferred on amd64 and the more portable
// one elsewhere; when the preferred engine fails to initialize, the
// alternate is tried before giving up.
func NewEngine(cfg OCRConfig) (Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	build := func(provider string) Engine {
		switch provider {
		case "paddleocr":
			return newHTTPEngine("paddleocr", cfg.PaddleURL, logger)
		case "easyocr":
			return newHTTPEngine("easyocr", cfg.EasyURL, logger)
		case "vision-llm":
			return newVisionEngine(cfg.VisionURL, cfg.VisionModel, logger)
		default:
			return nil
		}
	}

	if cfg.Provider != "auto" {
		engine := build(cfg.Provider)
		if engine == nil {
			return nil, fmt.Errorf("unknown OCR provider %q", cfg.Provider)
		}
		if err := engine.Initialize(languages, cfg.UseGPU); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", engine.Name(), err)
		}
		return engine, nil
	}

	// PaddleOCR is the accuracy pick on x86; EasyOCR travels better.
	order := []string{"paddleocr", "easyocr"}
	if runtime.GOARCH != "amd64" {
		order = []string{"easyocr", "paddleocr"}
	}

	var firstErr error
	for _, provider := range order {
		engine := build(provider)
		if err := engine.Initialize(languages, cfg.UseGPU); err != nil {
			logger.Warn("OCR engine failed to initialize, trying alternate",
				"engine", engine.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Info("selected OCR engine", "engine", engine.Name(), "arch", runtime.GOARCH)
		return engine, nil
	}
	return nil, fmt.Errorf("no OCR engine available: %w", firstErr)
}

// httpEngine calls an OCR microservice that accepts a base64 image and
// returns per-token detections with confidences.
type httpEngine struct {
	name       string
	baseURL    string
	languages  []string
	httpClient *http.Client
	logger     hclog.Logger
}

func newHTTPEngine(name, baseURL string, logger hclog.Logger) *httpEngine {
	return &httpEngine{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.Named(name),
	}
}

// Name identifies the engine.
func (e *httpEngine) Name() string { return e.name }

// Initialize verifies the service is reachable.
func (e *httpEngine) Initialize(languages []string, useGPU bool) error {
	if e.baseURL == "" {
		return fmt.Errorf("%s service URL is not configured", e.name)
	}
	e.languages = languages
	resp, err := e.httpClient.Get(e.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("%s service unreachable: %w", e.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s service unhealthy: status %d", e.name, resp.StatusCode)
	}
	return nil
}

type ocrRequest struct {
	Image     string   `json:"image"`
	Languages []string `json:"languages,omitempty"`
}

type ocrDetection struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type ocrResponse struct {
	Results []ocrDetection `json:"results"`
}

// ExtractText posts the image and joins confident detections with
// newlines.
func (e *httpEngine) ExtractText(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(ocrRequest{
		Image:     base64.StdEncoding.EncodeToString(data),
		Languages: e.languages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("OCR request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}

	lines := make([]string, 0, len(out.Results))
	for _, det := range out.Results {
		if det.Confidence >= minTokenConfidence && det.Text != "" {
			lines = append(lines, det.Text)
		}
	}
	e.logger.Debug("OCR extraction complete",
		"detections", len(out.Results), "accepted", len(lines))
	return strings.Join(lines, "\n"), nil
}

// visionEngine OCRs by asking a multimodal model to transcribe the
// image through Ollama's chat endpoint.
type visionEngine struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     hclog.Logger
}

func newVisionEngine(baseURL, model string, logger hclog.Logger) *visionEngine {
	if model == "" {
		model = "llava"
	}
	return &visionEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 300 * time.Second},
		logger:     logger.Named("vision-llm"),
	}
}

// Name identifies the engine.
func (e *visionEngine) Name() string { return "vision-llm" }

// Initialize checks the Ollama server is reachable.
func (e *visionEngine) Initialize(languages []string, useGPU bool) error {
	if e.baseURL == "" {
		return fmt.Errorf("vision-llm server URL is not configured")
	}
	resp, err := e.httpClient.Get(e.baseURL + "/api/tags")
	if err != nil {
		return fmt.Errorf("vision-llm server unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

type visionChatRequest struct {
	Model    string          `json:"model"`
	Messages []visionMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type visionMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type visionChatResponse struct {
	Message visionMessage `json:"message"`
}

const visionPrompt = "Extract all text visible in this image. " +
	"Return only the transcribed text, preserving line breaks. " +
	"If there is no text, return an empty response."

// ExtractText sends the image to the multimodal model.
func (e *visionEngine) ExtractText(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(visionChatRequest{
		Model: e.model,
		Messages: []visionMessage{{
			Role:    "user",
			Content: visionPrompt,
			Images:  []string{base64.StdEncoding.EncodeToString(data)},
		}},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vision request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out visionChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode vision response: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
