package backbone

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/model"
)

const (
	defaultTimeout   = 5 * time.Minute
	defaultRetryWait = 500 * time.Millisecond
)

// ErrChecksum is returned when a downloaded or cached artefact does not match
// its configured digest.
var ErrChecksum = errors.New("backbone checksum mismatch")

// HubConfig configures the pretrained-model hub.
type HubConfig struct {
	// BaseURL is the hub root; artefacts are fetched from <BaseURL>/<entrypoint>.onnx.
	BaseURL string `koanf:"baseurl" json:"base_url" yaml:"base_url"`
	// CacheDir stores downloaded artefacts.
	CacheDir string `koanf:"cachedir" json:"cache_dir" yaml:"cache_dir"`
	// ForceReload re-downloads artefacts even when they are cached.
	ForceReload bool `koanf:"forcereload" json:"force_reload" yaml:"force_reload"`
	// Timeout bounds a single download.
	Timeout time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	// RetryCount is the number of download retries.
	RetryCount int `koanf:"retrycount" json:"retry_count" yaml:"retry_count"`
	// Checksums maps an entrypoint to the expected hex SHA-256 of its artefact.
	Checksums map[string]string `koanf:"checksums" json:"checksums" yaml:"checksums"`
}

// OpenFunc opens a fetched artefact as a backbone.
type OpenFunc func(path string, spec model.Spec) (Backbone, error)

// HubLoader is a Loader backed by an HTTP model hub and a local cache.
type HubLoader struct {
	client *resty.Client
	config HubConfig
	open   OpenFunc
	logger *zap.Logger
	mu     sync.Mutex
}

// HubOption configures a HubLoader.
type HubOption func(*HubLoader)

// WithLogger sets the logger used by the hub.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *HubLoader) {
		h.logger = logger
	}
}

// WithOpener replaces the function that turns a cached artefact into a backbone.
func WithOpener(open OpenFunc) HubOption {
	return func(h *HubLoader) {
		h.open = open
	}
}

// WithRuntime opens artefacts with ONNX Runtime configured by cfg.
func WithRuntime(cfg RuntimeConfig) HubOption {
	return WithOpener(func(path string, spec model.Spec) (Backbone, error) {
		return OpenONNX(path, spec, cfg)
	})
}

// NewHubLoader creates a hub loader.
//
// Arguments:
//   - config: The hub configuration. BaseURL and CacheDir are required.
//   - opts: Optional settings such as the logger or the artefact opener.
//
// Returns:
//   - *HubLoader: The loader.
//   - error: An error if the configuration is incomplete.
func NewHubLoader(config HubConfig, opts ...HubOption) (*HubLoader, error) {
	if config.BaseURL == "" {
		return nil, errors.New("hub base url is required")
	}
	if config.CacheDir == "" {
		return nil, errors.New("hub cache dir is required")
	}
	cacheDir, err := filepath.Abs(config.CacheDir)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cache dir %s", config.CacheDir)
	}
	config.CacheDir = cacheDir
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryCount < 0 {
		config.RetryCount = 0
	}

	h := &HubLoader{
		config: config,
		logger: zap.NewNop(),
	}
	WithRuntime(RuntimeConfig{})(h)
	for _, opt := range opts {
		opt(h)
	}

	h.client = resty.New().
		SetLogger(h.logger.Sugar()).
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(defaultRetryWait)

	return h, nil
}

// Load implements Loader: it fetches the artefact for name and opens it.
func (h *HubLoader) Load(ctx context.Context, name model.Name) (Backbone, Metadata, error) {
	spec, meta, err := h.fetch(ctx, name)
	if err != nil {
		return nil, Metadata{}, err
	}

	b, err := h.open(meta.Path, spec)
	if err != nil {
		return nil, Metadata{}, errors.Wrapf(err, "error opening backbone %s", name)
	}
	if b.OutChannels() != spec.OutChannels {
		b.Close()
		return nil, Metadata{}, errors.Errorf("backbone %s reports %d channels, expected %d",
			name, b.OutChannels(), spec.OutChannels)
	}

	h.logger.Info("backbone loaded",
		zap.String("name", string(name)),
		zap.String("path", meta.Path),
		zap.Int("out_channels", meta.OutChannels))

	return b, meta, nil
}

// Fetch makes sure the artefact for name is in the cache and returns its metadata.
func (h *HubLoader) Fetch(ctx context.Context, name model.Name) (Metadata, error) {
	_, meta, err := h.fetch(ctx, name)
	return meta, err
}

func (h *HubLoader) fetch(ctx context.Context, name model.Name) (model.Spec, Metadata, error) {
	spec, err := models.Lookup(name)
	if err != nil {
		return model.Spec{}, Metadata{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	path := filepath.Join(h.config.CacheDir, spec.File())
	cached := false
	if !h.config.ForceReload {
		if _, err := os.Stat(path); err == nil {
			cached = true
		}
	}

	if !cached {
		if err := h.download(ctx, spec, path); err != nil {
			return model.Spec{}, Metadata{}, err
		}
	}

	digest, err := fileSHA256(path)
	if err != nil {
		return model.Spec{}, Metadata{}, err
	}
	if err := h.verify(spec, digest); err != nil {
		return model.Spec{}, Metadata{}, err
	}

	h.logger.Debug("backbone artefact ready",
		zap.String("entrypoint", spec.Entrypoint),
		zap.Bool("cached", cached),
		zap.String("sha256", digest))

	return spec, Metadata{
		Name:        spec.Name,
		Entrypoint:  spec.Entrypoint,
		OutChannels: spec.OutChannels,
		Path:        path,
		SHA256:      digest,
	}, nil
}

// download fetches the artefact into a temporary file next to path and moves
// it into place once the digest checks out, so a failed download never
// leaves a partial artefact in the cache.
func (h *HubLoader) download(ctx context.Context, spec model.Spec, path string) error {
	if err := os.MkdirAll(h.config.CacheDir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "error creating cache dir %s", h.config.CacheDir)
	}

	tmp, err := os.CreateTemp(h.config.CacheDir, spec.File()+".*.part")
	if err != nil {
		return errors.Wrap(err, "error creating temporary file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	h.logger.Info("downloading backbone",
		zap.String("entrypoint", spec.Entrypoint),
		zap.String("url", h.client.BaseURL+"/"+spec.File()))

	resp, err := h.client.R().
		SetContext(ctx).
		SetOutput(tmpPath).
		Get("/" + spec.File())
	if err != nil {
		return errors.Wrapf(err, "couldn't download %s", spec.File())
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.Errorf("couldn't download %s: %s", spec.File(), resp.Status())
	}

	digest, err := fileSHA256(tmpPath)
	if err != nil {
		return err
	}
	if err := h.verify(spec, digest); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "error moving artefact into %s", path)
	}
	return nil
}

func (h *HubLoader) verify(spec model.Spec, digest string) error {
	want, ok := h.config.Checksums[spec.Entrypoint]
	if !ok || want == "" {
		return nil
	}
	if !strings.EqualFold(want, digest) {
		return errors.Wrapf(ErrChecksum, "%s: got %s, want %s", spec.File(), digest, want)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "error opening %s", path)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", errors.Wrapf(err, "error hashing %s", path)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
