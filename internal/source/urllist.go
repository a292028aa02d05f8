package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

type urlListParams struct {
	URLsFile string `yaml:"urls_file"`
}

func (p *urlListParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.URLsFile, validation.Required),
	)
}

// urlList downloads every URL listed in a text file, one per line.
type urlList struct {
	env Env
	p   urlListParams
}

func (u *urlList) Fetch(ctx context.Context, dst storage.Provider) error {
	urls, err := readURLList(u.p.URLsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		u.env.Logger.Info("no URLs found", "file", u.p.URLsFile)
		return nil
	}

	for i, raw := range urls {
		name := fileNameFromURL(raw, i+1)
		if u.env.skip(dst, name) {
			continue
		}
		u.env.Logger.Info("downloading", "n", i+1, "of", len(urls), "file", name)
		n, err := u.env.Client.Download(ctx, "url list download", raw, nil, nil, dst, name)
		if err != nil {
			return err
		}
		u.env.Logger.Info("saved", "file", name, "bytes", n)
		if err := u.env.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// readURLList returns the non-blank lines of path, skipping # comments.
func readURLList(p string) ([]string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("url list: %w", err)
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("url list %s: %w", p, err)
	}
	return out, nil
}

// fileNameFromURL names a download after the last path segment of its URL,
// or file_<n> when the path has none.
func fileNameFromURL(raw string, n int) string {
	u, err := url.Parse(raw)
	if err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "/" && base != "." {
			return base
		}
	}
	return fmt.Sprintf("file_%d", n)
}
