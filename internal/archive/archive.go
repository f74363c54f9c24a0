// Package archive validates and extracts the base64-encoded zip archives
// that update commands upload: never-trust-the-archive discipline, applied
// before a single byte is written to the extraction root.
//
// It is intended for internal use by gatewayd only.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidBase64 and ErrNotAZip mark two of Decode's failure modes so
// callers can surface the matching error code; the third, an archive larger
// than MaxCompressedSize, wraps neither.
var (
	ErrInvalidBase64 = errors.New("archive: data is not valid base64")
	ErrNotAZip       = errors.New("archive: data is not a valid zip file")
)

const (
	// MaxCompressedSize bounds the base64-decoded archive (spec: 20 MiB).
	MaxCompressedSize = 20 * 1024 * 1024
	// MaxExpandedSize bounds the sum of uncompressed member sizes (spec: 100 MiB).
	MaxExpandedSize = 100 * 1024 * 1024
	// MaxMembers bounds the number of files in the archive (spec: 10).
	MaxMembers = 10
	// MaxCompressionRatio bounds uncompressed:compressed size per member (spec: 100:1).
	MaxCompressionRatio = 100

	chunkSize = 32 * 1024
)

// allowedExtensions is the whitelist of source, text, and common config
// extensions a member may have.
var allowedExtensions = map[string]bool{
	".py":   true,
	".go":   true,
	".js":   true,
	".ts":   true,
	".txt":  true,
	".md":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".cfg":  true,
	".ini":  true,
}

// Violation describes one member that failed validation.
type Violation struct {
	Member string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Member, v.Reason)
}

// RejectedError is returned by Validate when one or more members violate
// the archive's safety rules. No filesystem state has been touched.
type RejectedError struct {
	Violations []Violation
}

func (e *RejectedError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("archive rejected: %s", strings.Join(parts, "; "))
}

// Archive is a decoded, not-yet-validated zip archive.
type Archive struct {
	raw    []byte
	reader *zip.Reader
}

// Decode base64-decodes data and opens it as a zip archive. It does not
// validate member contents; call Validate before Extract.
func Decode(base64Data string) (*Archive, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) > MaxCompressedSize {
		return nil, fmt.Errorf("archive is %d bytes, exceeding the %d byte limit", len(raw), MaxCompressedSize)
	}

	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAZip, err)
	}

	return &Archive{raw: raw, reader: r}, nil
}

// Validate checks every member against the archive's safety rules and
// returns a RejectedError naming every offending member if any fail. It
// performs no filesystem writes.
func (a *Archive) Validate() error {
	if len(a.reader.File) > MaxMembers {
		return &RejectedError{Violations: []Violation{{
			Member: "<archive>",
			Reason: fmt.Sprintf("has %d members, exceeding the %d member limit", len(a.reader.File), MaxMembers),
		}}}
	}

	var violations []Violation
	var totalExpanded uint64

	for _, f := range a.reader.File {
		totalExpanded += f.UncompressedSize64

		if reason, bad := violationReason(f); bad {
			violations = append(violations, Violation{Member: f.Name, Reason: reason})
		}
	}

	if totalExpanded > MaxExpandedSize {
		violations = append(violations, Violation{
			Member: "<archive>",
			Reason: fmt.Sprintf("expands to %d bytes, exceeding the %d byte limit", totalExpanded, MaxExpandedSize),
		})
	}

	if len(violations) > 0 {
		return &RejectedError{Violations: violations}
	}
	return nil
}

func violationReason(f *zip.File) (string, bool) {
	name := f.Name

	if filepath.IsAbs(name) {
		return "absolute paths are not permitted", true
	}

	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		switch {
		case part == "..":
			return "path traversal (\"..\") is not permitted", true
		case part == ".":
			continue
		case strings.HasPrefix(part, "~"):
			return "paths starting with \"~\" are not permitted", true
		case strings.HasPrefix(part, "$"):
			return "paths starting with \"$\" are not permitted", true
		}
	}

	if !f.FileInfo().IsDir() {
		ext := strings.ToLower(filepath.Ext(name))
		if !allowedExtensions[ext] {
			return fmt.Sprintf("extension %q is not in the allowed whitelist", ext), true
		}

		if f.UncompressedSize64 > 0 && f.CompressedSize64 > 0 {
			ratio := f.UncompressedSize64 / f.CompressedSize64
			if ratio > MaxCompressionRatio {
				return fmt.Sprintf("compression ratio %d:1 exceeds the %d:1 limit", ratio, MaxCompressionRatio), true
			}
		}
	}

	if f.Mode()&os.ModeSymlink != 0 {
		return "symlinks are not permitted", true
	}

	return "", false
}

// Extract writes every validated member under root, chunk by chunk,
// applying Unix mode bits from the archive metadata on a best-effort basis.
// Callers must call Validate first; Extract re-derives each target path with
// the same traversal guard as a defense in depth measure.
func (a *Archive) Extract(root string) error {
	for _, f := range a.reader.File {
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(target), err)
		}

		if err := extractMember(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractMember(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry: %w", err)
	}
	defer rc.Close() //nolint:errcheck // read-only handle, close error is inconsequential

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer out.Close() //nolint:errcheck // flush errors are caught in the explicit Close below

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(out, rc, buf); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}

	return out.Close()
}

// safeJoin resolves name under root, rejecting any result that escapes root.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, name))
	rel, err := filepath.Rel(root, cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("member %q escapes extraction root", name)
	}
	return cleaned, nil
}
