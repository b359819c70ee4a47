package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

var (
	ErrSuperseded = errors.New("dataset: load superseded by a newer request")
	ErrNoCSV      = errors.New("dataset: manifest lists no csv table")
	ErrTooLarge   = errors.New("dataset: document exceeds size limit")
)

const defaultMaxBytes = 64 * 1024 * 1024

// Dataset is everything the review engine needs from one base URL.
type Dataset struct {
	BaseURL  string
	Manifest Manifest
	CSVPath  string
	CSVURL   string
	CSVText  string
}

type LoaderConfig struct {
	Client   *http.Client
	CSVName  string
	MaxBytes int64
}

// Loader fetches manifests and bout tables. Only the most recent Load may complete; earlier
// calls still in flight return ErrSuperseded.
type Loader struct {
	client   *http.Client
	csvName  string
	maxBytes int64
	gen      atomic.Uint64
}

func NewLoader(cfg LoaderConfig) *Loader {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Loader{client: client, csvName: cfg.CSVName, maxBytes: maxBytes}
}

func (l *Loader) Load(ctx context.Context, baseURL string) (*Dataset, error) {
	gen := l.gen.Add(1)
	baseURL = strings.TrimRight(baseURL, "/")

	body, err := l.fetch(ctx, baseURL+"/"+ManifestName)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if l.gen.Load() != gen {
		return nil, ErrSuperseded
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	ds := &Dataset{BaseURL: baseURL, Manifest: manifest}
	item, ok := manifest.CSV(l.csvName)
	if !ok {
		return ds, ErrNoCSV
	}
	ds.CSVPath = item.Path
	ds.CSVURL = baseURL + "/" + strings.TrimLeft(item.Path, "/")

	text, err := l.fetch(ctx, ds.CSVURL)
	if err != nil {
		return nil, fmt.Errorf("load bout table: %w", err)
	}
	if l.gen.Load() != gen {
		return nil, ErrSuperseded
	}
	ds.CSVText = string(text)
	return ds, nil
}

// FetchText retrieves a single document without touching the supersede guard.
func (l *Loader) FetchText(ctx context.Context, url string) (string, error) {
	body, err := l.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "boutview/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	if resp.ContentLength > l.maxBytes {
		return nil, fmt.Errorf("fetch %s: %w (%d > %d bytes)", url, ErrTooLarge, resp.ContentLength, l.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("read %s: %w (limit %d bytes)", url, ErrTooLarge, l.maxBytes)
	}
	return body, nil
}
