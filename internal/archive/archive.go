// Package archive unwraps platform export bundles. The platforms ship
// their data as a zip with the conversations payload at a fixed member
// path; plain .json exports bypass this package entirely.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// payloadMember is where every supported platform puts the conversation
// data inside its export bundle.
const payloadMember = "conversations.json"

// IsBundle reports whether path looks like an export bundle rather than a
// bare JSON payload.
func IsBundle(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// ExtractPayload opens an export bundle and returns the conversations
// payload. Bundles without one are rejected; the other members (user
// profiles, media) are ignored.
func ExtractPayload(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != payloadMember {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("bundle has no %s", payloadMember)
}
