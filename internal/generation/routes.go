package generation

import (
	"encoding/json"
	"strings"

	"github.com/vipplay/content-backend/internal/domain"
)

// Route binds a job type to its backend endpoint and teaches the client how to
// lift the result out of that endpoint's response shape.
type Route struct {
	Path      string
	ResultKey string
}

var routes = map[domain.JobType]Route{
	domain.JobTypeArticle: {Path: "/api/generation/topic", ResultKey: "content"},
	domain.JobTypeImage:   {Path: "/api/images/generate", ResultKey: "image_url"},
	domain.JobTypeVideo:   {Path: "/api/videos/generate", ResultKey: "video_url"},
}

// RouteFor returns the backend route for a job type.
func RouteFor(jobType domain.JobType) (Route, bool) {
	route, ok := routes[jobType]
	return route, ok
}

type backendResponse struct {
	Success  bool            `json:"success"`
	Content  string          `json:"content"`
	ImageURL string          `json:"image_url"`
	VideoURL string          `json:"video_url"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
	Metadata json.RawMessage `json:"metadata"`
}

func (r backendResponse) value(key string) string {
	switch key {
	case "content":
		return r.Content
	case "image_url":
		return r.ImageURL
	case "video_url":
		return r.VideoURL
	}
	return ""
}

func (r backendResponse) failureMessage() string {
	if strings.TrimSpace(r.Error) != "" {
		return r.Error
	}
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	return "backend reported failure without detail"
}
