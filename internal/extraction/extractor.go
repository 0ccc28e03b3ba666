// Package extraction reads invoice fields out of a delivery photo using an external model.
package extraction

import (
	"context"
	"errors"

	"snapclaim/internal/reconcile"
)

// ErrNotConfigured is returned when no extraction backend is configured.
var ErrNotConfigured = errors.New("extraction: no backend configured")

// Extractor returns whatever invoice fields it could read. Fields it could not read stay nil.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mediaType string) (reconcile.Extracted, error)
}

// Disabled is the Extractor used when no API key is set.
type Disabled struct{}

func (Disabled) Extract(context.Context, []byte, string) (reconcile.Extracted, error) {
	return reconcile.Extracted{}, ErrNotConfigured
}

// SupportedMediaTypes lists the image types accepted for extraction.
var SupportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}
