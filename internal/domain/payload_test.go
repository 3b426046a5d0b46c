package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateArticlePayloadDefaults(t *testing.T) {
	raw, err := ValidatePayload(JobTypeArticle, json.RawMessage(`{"topic":"  Go queues  "}`))
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	var payload ArticlePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding normalized payload: %v", err)
	}
	if payload.Topic != "Go queues" {
		t.Fatalf("expected trimmed topic, got %q", payload.Topic)
	}
	if payload.WordCount != 1200 {
		t.Fatalf("expected default word_count 1200, got %d", payload.WordCount)
	}
	if payload.Tone != "Professional" {
		t.Fatalf("expected default tone, got %q", payload.Tone)
	}
}

func TestValidateImagePayloadDefaults(t *testing.T) {
	raw, err := ValidatePayload(JobTypeImage, json.RawMessage(`{"prompt":"a lighthouse"}`))
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	var payload ImagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding normalized payload: %v", err)
	}
	if payload.Width != 1024 || payload.Height != 1024 {
		t.Fatalf("expected default 1024x1024, got %dx%d", payload.Width, payload.Height)
	}
	if payload.Style != "realistic" {
		t.Fatalf("expected default style realistic, got %q", payload.Style)
	}
	if payload.Steps != 30 {
		t.Fatalf("expected default steps 30, got %d", payload.Steps)
	}
}

func TestValidateVideoPayloadDefaults(t *testing.T) {
	raw, err := ValidatePayload(JobTypeVideo, json.RawMessage(`{"prompt":"waves at dusk"}`))
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	var payload VideoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding normalized payload: %v", err)
	}
	if payload.NumInferenceSteps != 9 {
		t.Fatalf("expected default num_inference_steps 9, got %d", payload.NumInferenceSteps)
	}
}

func TestValidatePayloadRejections(t *testing.T) {
	cases := []struct {
		name    string
		jobType JobType
		payload string
	}{
		{"empty payload", JobTypeArticle, ""},
		{"missing topic", JobTypeArticle, `{}`},
		{"blank topic", JobTypeArticle, `{"topic":"   "}`},
		{"word count too low", JobTypeArticle, `{"topic":"x","word_count":50}`},
		{"word count too high", JobTypeArticle, `{"topic":"x","word_count":9000}`},
		{"unknown field", JobTypeArticle, `{"topic":"x","temperature":0.7}`},
		{"missing prompt", JobTypeImage, `{}`},
		{"width too small", JobTypeImage, `{"prompt":"x","width":64}`},
		{"height too large", JobTypeImage, `{"prompt":"x","height":4096}`},
		{"unsupported style", JobTypeImage, `{"prompt":"x","style":"vaporwave"}`},
		{"steps out of range", JobTypeImage, `{"prompt":"x","steps":5}`},
		{"missing video prompt", JobTypeVideo, `{}`},
		{"inference steps too low", JobTypeVideo, `{"prompt":"x","num_inference_steps":3}`},
		{"too many frames", JobTypeVideo, `{"prompt":"x","num_frames":500}`},
		{"malformed json", JobTypeVideo, `{"prompt":`},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ValidatePayload(testCase.jobType, json.RawMessage(testCase.payload))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidatePayloadUnknownType(t *testing.T) {
	_, err := ValidatePayload(JobType("podcast"), json.RawMessage(`{"prompt":"x"}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []JobStatus{JobStatusQueued, JobStatusProcessing} {
		if status.Terminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}
