package render

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// MediaSources locates the files behind served media URLs.
type MediaSources struct {
	// AudioDir holds <engine>/<language>/<voice>/<file>.
	AudioDir string
	// ImageDir holds <project>/<file>.
	ImageDir string
}

var (
	servedImageURL = regexp.MustCompile(`/serve_project_image/([^/]+)/([^/?#]+)$`)
	servedAudioURL = regexp.MustCompile(`/serve_audio_file/([^/]+)/([^/]+)/([^/]+)/([^/?#]+)$`)
)

// mediaAttrs are the attributes that may carry a served media URL.
var mediaAttrs = map[string]bool{"src": true, "href": true, "data-audio": true}

// BuildContentZip rewrites the served media URLs of every HTML file under
// dir to multimedia/<file>, copies the referenced files into
// dir/multimedia and zips the tree into zipPath.
func (r *Renderer) BuildContentZip(ctx context.Context, dir, zipPath string, src MediaSources) error {
	mediaDir := filepath.Join(dir, DirMultimedia)
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return err
	}
	z := &zipRewriter{src: src, mediaDir: mediaDir, copied: make(map[string]bool), r: r}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".html") {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return z.rewriteFile(p)
	})
	if err != nil {
		return fmt.Errorf("rewrite media urls: %w", err)
	}
	if err := zipTree(dir, zipPath); err != nil {
		return fmt.Errorf("write content zip: %w", err)
	}
	r.logger.Info("built content zip", "dir", dir, "zip", zipPath, "media", len(z.copied))
	return nil
}

type zipRewriter struct {
	src      MediaSources
	mediaDir string
	copied   map[string]bool
	r        *Renderer
}

func (z *zipRewriter) rewriteFile(p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	changed := false
	tz := html.NewTokenizer(bytes.NewReader(data))
	for {
		tt := tz.Next()
		if tt == html.ErrorToken {
			if err := tz.Err(); err != io.EOF {
				return fmt.Errorf("%s: %w", p, err)
			}
			break
		}
		raw := append([]byte(nil), tz.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(raw)
			continue
		}
		tok := tz.Token()
		rewritten := false
		for i, a := range tok.Attr {
			if !mediaAttrs[a.Key] {
				continue
			}
			if local, ok := z.localise(a.Val); ok {
				tok.Attr[i].Val = local
				rewritten = true
			}
		}
		if !rewritten {
			out.Write(raw)
			continue
		}
		changed = true
		out.WriteString(tok.String())
	}
	if !changed {
		return nil
	}
	return os.WriteFile(p, out.Bytes(), 0o644)
}

// localise maps a served media URL to its multimedia path, copying the
// file on first sight.
func (z *zipRewriter) localise(u string) (string, bool) {
	var src string
	if m := servedAudioURL.FindStringSubmatch(u); m != nil {
		parts := unescapeAll(m[1:])
		src = filepath.Join(z.src.AudioDir, parts[0], parts[1], parts[2], parts[3])
	} else if m := servedImageURL.FindStringSubmatch(u); m != nil {
		parts := unescapeAll(m[1:])
		src = filepath.Join(z.src.ImageDir, parts[0], parts[1])
	} else {
		return "", false
	}
	base := filepath.Base(src)
	if !z.copied[base] {
		if err := copyFile(src, filepath.Join(z.mediaDir, base)); err != nil {
			z.r.logger.Warn("failed to copy media into content zip", "path", src, "error", err)
		}
		z.copied[base] = true
	}
	return DirMultimedia + "/" + base, true
}

func unescapeAll(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			p = u
		}
		out[i] = filepath.Base(p)
	}
	return out
}

func zipTree(dir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	absZip, _ := filepath.Abs(zipPath)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if abs, _ := filepath.Abs(p); abs == absZip {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
