package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkalinski-dev/materio/internal/models"
)

// Aspect-ratio thresholds separating wide / tall / square layouts.
const (
	wideRatio = 2.0
	tallRatio = 0.5
)

// orientation infers the layout class of an image from its pixel ratio.
func orientation(width, height int) string {
	if height <= 0 {
		return "unknown"
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio >= wideRatio:
		return "wide"
	case ratio <= tallRatio:
		return "tall"
	default:
		return "square"
	}
}

// renderImage produces the textual placeholder stored in place of image
// pixels: page, dimensions, layout orientation, and any attached metadata
// serialized as JSON.
func renderImage(img models.ImageData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Image on page %d.\n", img.Page)
	fmt.Fprintf(&b, "Dimensions: %dx%d px, layout: %s\n", img.Width, img.Height, orientation(img.Width, img.Height))
	if img.Format != "" {
		fmt.Fprintf(&b, "Format: %s\n", img.Format)
	}
	if len(img.Metadata) > 0 {
		if meta, err := json.Marshal(img.Metadata); err == nil {
			fmt.Fprintf(&b, "Metadata: %s\n", meta)
		}
	}

	return b.String()
}
