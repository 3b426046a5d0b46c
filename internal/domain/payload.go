package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ArticlePayload carries the parameters for article generation.
type ArticlePayload struct {
	Topic            string   `json:"topic"`
	WordCount        int      `json:"word_count,omitempty"`
	Tone             string   `json:"tone,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	SEOOptimization  bool     `json:"seo_optimization,omitempty"`
	ContentStructure string   `json:"content_structure,omitempty"`
}

// ImagePayload carries the parameters for image generation.
type ImagePayload struct {
	Prompt         string `json:"prompt"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// VideoPayload carries the parameters for video generation.
type VideoPayload struct {
	Prompt            string `json:"prompt"`
	ModelID           string `json:"model_id,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	NumInferenceSteps int    `json:"num_inference_steps,omitempty"`
	NumFrames         int    `json:"num_frames,omitempty"`
	Seed              *int64 `json:"seed,omitempty"`
}

var imageStyles = map[string]bool{
	"realistic": true,
	"artistic":  true,
	"cartoon":   true,
	"abstract":  true,
}

// ValidatePayload checks the payload shape for the given type, applies defaults,
// and returns the normalized payload. Validation happens once, here, at the
// submission boundary; workers trust what they dequeue.
func ValidatePayload(jobType JobType, payload json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ValidationError("payload is required")
	}

	switch jobType {
	case JobTypeArticle:
		return validateArticlePayload(payload)
	case JobTypeImage:
		return validateImagePayload(payload)
	case JobTypeVideo:
		return validateVideoPayload(payload)
	default:
		return nil, ValidationError("unknown job type %q", jobType)
	}
}

func validateArticlePayload(raw json.RawMessage) (json.RawMessage, error) {
	var payload ArticlePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	payload.Topic = strings.TrimSpace(payload.Topic)
	if payload.Topic == "" {
		return nil, ValidationError("article topic is required")
	}
	if payload.WordCount == 0 {
		payload.WordCount = 1200
	}
	if payload.WordCount < 100 || payload.WordCount > 5000 {
		return nil, ValidationError("word_count must be between 100 and 5000")
	}
	if payload.Tone == "" {
		payload.Tone = "Professional"
	}
	if payload.ContentStructure == "" {
		payload.ContentStructure = "auto"
	}

	return json.Marshal(payload)
}

func validateImagePayload(raw json.RawMessage) (json.RawMessage, error) {
	var payload ImagePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	payload.Prompt = strings.TrimSpace(payload.Prompt)
	if payload.Prompt == "" {
		return nil, ValidationError("image prompt is required")
	}
	if len(payload.Prompt) > 1000 {
		return nil, ValidationError("image prompt exceeds 1000 characters")
	}
	if len(payload.NegativePrompt) > 500 {
		return nil, ValidationError("negative_prompt exceeds 500 characters")
	}
	if payload.Width == 0 {
		payload.Width = 1024
	}
	if payload.Height == 0 {
		payload.Height = 1024
	}
	if err := checkDimension("width", payload.Width); err != nil {
		return nil, err
	}
	if err := checkDimension("height", payload.Height); err != nil {
		return nil, err
	}
	if payload.Style == "" {
		payload.Style = "realistic"
	}
	if !imageStyles[strings.ToLower(payload.Style)] {
		return nil, ValidationError("unsupported image style %q", payload.Style)
	}
	if payload.Steps == 0 {
		payload.Steps = 30
	}
	if payload.Steps < 10 || payload.Steps > 100 {
		return nil, ValidationError("steps must be between 10 and 100")
	}

	return json.Marshal(payload)
}

func validateVideoPayload(raw json.RawMessage) (json.RawMessage, error) {
	var payload VideoPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	payload.Prompt = strings.TrimSpace(payload.Prompt)
	if payload.Prompt == "" {
		return nil, ValidationError("video prompt is required")
	}
	if len(payload.Prompt) > 1000 {
		return nil, ValidationError("video prompt exceeds 1000 characters")
	}
	if payload.Width != 0 {
		if err := checkDimension("width", payload.Width); err != nil {
			return nil, err
		}
	}
	if payload.Height != 0 {
		if err := checkDimension("height", payload.Height); err != nil {
			return nil, err
		}
	}
	if payload.NumInferenceSteps == 0 {
		payload.NumInferenceSteps = 9
	}
	if payload.NumInferenceSteps < 9 || payload.NumInferenceSteps > 100 {
		return nil, ValidationError("num_inference_steps must be between 9 and 100")
	}
	if payload.NumFrames < 0 || payload.NumFrames > 200 {
		return nil, ValidationError("num_frames must be between 1 and 200")
	}

	return json.Marshal(payload)
}

func checkDimension(name string, value int) error {
	if value < 256 || value > 2048 {
		return ValidationError("%s must be between 256 and 2048", name)
	}
	return nil
}

func decodeStrict(raw json.RawMessage, value any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return ValidationError("malformed payload: %v", err)
	}
	return nil
}
