package javaruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/retry"
)

// --- JSON wire types (private, for distribution API parsing) ---

type assetJSON struct {
	ReleaseName string     `json:"release_name"`
	Binary      binaryJSON `json:"binary"`
}

type binaryJSON struct {
	Package *packageJSON `json:"package"`
}

type packageJSON struct {
	Name string `json:"name"`
	Link string `json:"link"`
	Size int64  `json:"size"`
}

// asset is a downloadable runtime archive.
type asset struct {
	Name string
	URL  string
	Size int64
}

// ResolveAsset asks the distribution API for the latest JRE archive of a major version.
func (v *Verifier) ResolveAsset(ctx context.Context, major string) (*asset, error) {
	q := url.Values{}
	q.Set("architecture", distributionArch(v.goarch))
	q.Set("image_type", "jre")
	q.Set("os", distributionOS(v.goos))
	apiURL := fmt.Sprintf("%s/assets/latest/%s/hotspot?%s", v.distributionURL, url.PathEscape(major), q.Encode())

	v.logger.Debugf("Resolving runtime download from %s", apiURL)

	return retry.Do(ctx, v.retryConfig("runtime distribution lookup"), func(ctx context.Context) (*asset, error) {
		data, err := v.httpGet(ctx, apiURL)
		if err != nil {
			return nil, err
		}

		var assets []assetJSON
		if err := json.Unmarshal(data, &assets); err != nil {
			return nil, retry.Fatal(fmt.Errorf("parsing distribution response: %w", err))
		}

		for _, a := range assets {
			if a.Binary.Package == nil || a.Binary.Package.Link == "" {
				continue
			}
			name := a.Binary.Package.Name
			if name == "" {
				name = archiveNameFromURL(a.Binary.Package.Link)
			}
			return &asset{Name: filepath.Base(name), URL: a.Binary.Package.Link, Size: a.Binary.Package.Size}, nil
		}

		return nil, retry.Fatal(fmt.Errorf("java %s for %s/%s: %w", major, v.goos, v.goarch, model.ErrNoDownloadLink))
	})
}

// download fetches an asset into dir with bounded retries and returns the archive path.
func (v *Verifier) download(ctx context.Context, a asset, dir string) (string, error) {
	dst := filepath.Join(dir, a.Name)
	v.logger.Infof("Downloading Java runtime %s", a.Name)

	return retry.Do(ctx, v.retryConfig("runtime download"), func(ctx context.Context) (string, error) {
		err := v.downloadFile(ctx, a.URL, dst, a.Size)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
		}
		v.metrics.IncRuntimeDownloadAttempt(ctx, result)
		if err != nil {
			return "", err
		}
		return dst, nil
	})
}

func (v *Verifier) httpGet(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("creating request: %w", err))
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, link)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

func (v *Verifier) downloadFile(ctx context.Context, link, dstPath string, totalSize int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return retry.Fatal(fmt.Errorf("creating request: %w", err))
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, link)
	}

	f, err := os.Create(dstPath)
	if err != nil {
		return retry.Fatal(fmt.Errorf("creating file %s: %w", dstPath, err))
	}
	defer f.Close()

	if totalSize <= 0 {
		totalSize = resp.ContentLength
	}

	var dst io.Writer = f
	if v.statusWriter != nil {
		pw := newProgressWriter(f, v.statusWriter, filepath.Base(dstPath), totalSize)
		defer pw.finish()
		dst = pw
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("writing file %s: %w", dstPath, err)
	}

	return nil
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func archiveNameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return path.Base(link)
	}
	return path.Base(u.Path)
}
