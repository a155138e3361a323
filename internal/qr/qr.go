// Package qr defines the QR rendering collaborator contract. This core
// hands over the check-in token and stores back only an opaque image
// URL; the image format is the collaborator's business.
package qr

import "context"

// Generator renders a check-in token into a QR image and returns its
// public URL.
type Generator interface {
	Render(ctx context.Context, token string) (url string, err error)
}

// NoopGenerator skips rendering. The check-in token is still usable in
// raw form, so registrations work without the collaborator.
type NoopGenerator struct{}

// Render implements Generator.
func (NoopGenerator) Render(context.Context, string) (string, error) {
	return "", nil
}
