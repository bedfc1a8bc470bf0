package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voidxp/voidgate/internal/types"
)

const (
	maxFetchBytes  = 10 << 20
	fetchTimeout   = 10 * time.Second
	maxInlineChars = 2000
)

// Resolved is one attachment reduced to text a model can read.
type Resolved struct {
	Name        string
	ContentType string
	Text        string
	IsImage     bool
}

// Resolver fetches attachment references and renders them as inline text.
type Resolver struct {
	client *http.Client
}

func NewResolver() *Resolver {
	return &Resolver{client: &http.Client{Timeout: fetchTimeout}}
}

// Resolve fetches one attachment. Unsupported schemes and fetch failures
// are errors; a request must not reach a provider with silently missing
// context.
func (r *Resolver) Resolve(ctx context.Context, ref types.Attachment) (*Resolved, error) {
	if isImageType(ref.ContentType) {
		// Images are referenced by name only; their bytes never travel
		// to text-completion providers.
		return &Resolved{Name: ref.Name, ContentType: ref.ContentType, IsImage: true}, nil
	}

	switch {
	case strings.HasPrefix(ref.URL, "data:"):
		text, err := decodeDataURL(ref.URL)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", ref.Name, err)
		}
		return &Resolved{Name: ref.Name, ContentType: ref.ContentType, Text: text}, nil
	case strings.HasPrefix(ref.URL, "http://"), strings.HasPrefix(ref.URL, "https://"):
		text, err := r.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &Resolved{Name: ref.Name, ContentType: ref.ContentType, Text: text}, nil
	default:
		return nil, fmt.Errorf("attachment %s: unsupported url scheme", ref.Name)
	}
}

func (r *Resolver) fetch(ctx context.Context, ref types.Attachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", fmt.Errorf("attachment %s: %w", ref.Name, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("attachment %s: fetch: %w", ref.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment %s: fetch returned status %d", ref.Name, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isTextualType(ct) {
		return "", fmt.Errorf("attachment %s: content type %s is not textual", ref.Name, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("attachment %s: read body: %w", ref.Name, err)
	}
	return string(data), nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data> URLs. Non-base64
// payloads are percent-encoded per RFC 2397.
func decodeDataURL(raw string) (string, error) {
	rest := strings.TrimPrefix(raw, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", fmt.Errorf("malformed data url")
	}
	meta, payload := rest[:comma], rest[comma+1:]

	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("decode base64 data url: %w", err)
		}
		return string(decoded), nil
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("decode data url: %w", err)
	}
	return decoded, nil
}

func isImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func isTextualType(contentType string) bool {
	mediaType := contentType
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(contentType[:i])
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xml":
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	default:
		return false
	}
}

// ResolveAll fetches every attachment and renders the combined inline
// block. Any single failure fails the whole set.
func (r *Resolver) ResolveAll(ctx context.Context, refs []types.Attachment) (string, error) {
	if len(refs) == 0 {
		return "", nil
	}
	resolved := make([]*Resolved, 0, len(refs))
	for _, ref := range refs {
		res, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", err
		}
		resolved = append(resolved, res)
	}
	return RenderBlock(resolved), nil
}

// RenderBlock formats resolved attachments for inline inclusion. File
// bodies longer than 2000 characters are cut with a truncation marker.
func RenderBlock(files []*Resolved) string {
	var b strings.Builder
	b.WriteString("--- Attached Files ---\n")
	for _, f := range files {
		if f.IsImage {
			fmt.Fprintf(&b, "[Image: %s]\n", f.Name)
			continue
		}
		fmt.Fprintf(&b, "[File: %s (%s)]\n", f.Name, f.ContentType)
		text := f.Text
		if len(text) > maxInlineChars {
			text = text[:maxInlineChars] + "... (truncated)"
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("--- End of Files ---")
	return b.String()
}
