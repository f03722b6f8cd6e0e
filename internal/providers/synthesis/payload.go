package synthesis

import (
	"fmt"
	"strings"
)

// Provider-supported output range, pixels per side, inclusive.
const (
	MinDimension = 1024
	MaxDimension = 4096
)

// Request is the wire payload for a submission. Exactly one of the
// Resolution/AspectRatio pair and the Size string is populated, depending on
// the model family. Image ordering is references first, then target.
type Request struct {
	Prompt             string   `json:"prompt"`
	Images             []string `json:"images"`
	Resolution         string   `json:"resolution,omitempty"`
	AspectRatio        string   `json:"aspect_ratio,omitempty"`
	Size               string   `json:"size,omitempty"`
	OutputFormat       string   `json:"output_format,omitempty"`
	EnableSyncMode     bool     `json:"enable_sync_mode"`
	EnableBase64Output bool     `json:"enable_base64_output"`
}

// BuildParams are the resolved inputs a builder shapes into a Request.
type BuildParams struct {
	Prompt string
	Images []string
	Width  int
	Height int
}

// PayloadBuilder shapes a provider request for one model family.
type PayloadBuilder interface {
	Build(p BuildParams) Request
}

var builders = map[string]PayloadBuilder{}

// RegisterBuilder binds a model id to a payload builder. Later registrations
// win, which lets tests override entries.
func RegisterBuilder(model string, b PayloadBuilder) {
	builders[strings.ToLower(model)] = b
}

// BuilderFor resolves the payload builder for a model id. Unknown models fall
// back by family: size-string models carry "seedream" in the id, everything
// else uses the resolution form.
func BuilderFor(model string) PayloadBuilder {
	if b, ok := builders[strings.ToLower(model)]; ok {
		return b
	}
	if strings.Contains(strings.ToLower(model), "seedream") {
		return sizeBuilder{}
	}
	return resolutionBuilder{}
}

func init() {
	RegisterBuilder("bytedance/seedream-v4-edit", sizeBuilder{})
	RegisterBuilder("google/nano-banana-edit", resolutionBuilder{})
}

// ClampDimensions forces width and height into the provider-supported range.
func ClampDimensions(w, h int) (int, int) {
	return clamp(w), clamp(h)
}

func clamp(v int) int {
	if v < MinDimension {
		return MinDimension
	}
	if v > MaxDimension {
		return MaxDimension
	}
	return v
}

// resolutionBuilder emits the resolution + aspect-ratio request form.
type resolutionBuilder struct{}

func (resolutionBuilder) Build(p BuildParams) Request {
	w, h := ClampDimensions(p.Width, p.Height)
	return Request{
		Prompt:       p.Prompt,
		Images:       p.Images,
		Resolution:   resolutionLabel(w, h),
		AspectRatio:  aspectRatio(w, h),
		OutputFormat: "png",
	}
}

// sizeBuilder emits the raw "width*height" size-string request form.
type sizeBuilder struct{}

func (sizeBuilder) Build(p BuildParams) Request {
	w, h := ClampDimensions(p.Width, p.Height)
	return Request{
		Prompt:       p.Prompt,
		Images:       p.Images,
		Size:         fmt.Sprintf("%d*%d", w, h),
		OutputFormat: "png",
	}
}

func resolutionLabel(w, h int) string {
	longest := w
	if h > longest {
		longest = h
	}
	switch {
	case longest >= 3840:
		return "4k"
	case longest >= 2048:
		return "2k"
	default:
		return "1k"
	}
}

func aspectRatio(w, h int) string {
	d := gcd(w, h)
	return fmt.Sprintf("%d:%d", w/d, h/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
