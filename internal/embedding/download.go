package embedding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ProgressFunc receives download progress in bytes. total is -1 when unknown.
type ProgressFunc func(current, total int64)

// EnsureModel returns the path of file inside dir, downloading it from url first if it
// is missing. The download goes to a temporary file that is renamed into place on success,
// so a partial download never looks like a model.
func EnsureModel(ctx context.Context, dir, file, url string, progress ProgressFunc) (string, error) {
	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model: %w", err)
	}
	if url == "" {
		return "", fmt.Errorf("model %s not found and no model_url configured", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download model: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(dir, file+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var src io.Reader = resp.Body
	if progress != nil {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
		progress(0, resp.ContentLength)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to move model into place: %w", err)
	}
	return path, nil
}

type progressReader struct {
	r       io.Reader
	current int64
	total   int64
	fn      ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.current += int64(n)
		p.fn(p.current, p.total)
	}
	return n, err
}
