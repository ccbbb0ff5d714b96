package distribution

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"mldownloader/internal/config"
	"mldownloader/internal/logging"
	"mldownloader/internal/metrics"
	"mldownloader/internal/state"
	"mldownloader/internal/system"
)

var Version = "dev"

// Client implements Service over HTTP. Model metadata lives at
// {base_url}/v1/models/{name}; artifacts are streamed from the download_url it returns
// and tracked in the local state DB.
type Client struct {
	cfg    *config.Config
	log    *logging.Logger
	st     *state.DB
	m      *metrics.Manager
	client *http.Client // metadata calls, bounded by service.timeout_seconds
	dl     *http.Client // artifact streams, bounded by ctx and ResponseHeaderTimeout
	base   *neturl.URL

	locks    sync.Map // name -> *sync.Mutex
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type remoteModel struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
}

func NewClient(cfg *config.Config, log *logging.Logger, st *state.DB, m *metrics.Manager) (*Client, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("distribution: config and state are required")
	}
	base, err := neturl.Parse(strings.TrimRight(cfg.Service.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("service.base_url: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	api, dl := newHTTPClients(cfg)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Client{cfg: cfg, log: log, st: st, m: m, client: api, dl: dl, base: base, bgCtx: bgCtx, bgCancel: bgCancel}, nil
}

// newHTTPClients returns the metadata client and the artifact client. Both share
// one transport; only the metadata client has a whole-request timeout, since
// artifact bodies may take arbitrarily long to stream.
func newHTTPClients(cfg *config.Config) (api, dl *http.Client) {
	timeout := time.Duration(cfg.Service.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	// Authorization only follows redirects that stay on the same host.
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		prev := via[len(via)-1]
		if ua := prev.Header.Get("User-Agent"); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		if prev.URL != nil && req.URL != nil && strings.EqualFold(prev.URL.Host, req.URL.Host) {
			if auth := prev.Header.Get("Authorization"); auth != "" {
				req.Header.Set("Authorization", auth)
			}
		} else {
			req.Header.Del("Authorization")
		}
		return nil
	}
	api = &http.Client{Transport: tr, Timeout: timeout, CheckRedirect: checkRedirect}
	dl = &http.Client{Transport: tr, CheckRedirect: checkRedirect}
	return api, dl
}

func (c *Client) userAgent() string {
	if c.cfg.Service.UserAgent != "" {
		return c.cfg.Service.UserAgent
	}
	return fmt.Sprintf("mldownloader/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	hadAuth := false
	if tok := c.cfg.Token(); tok != "" && c.sameHost(req.URL) {
		req.Header.Set("Authorization", "Bearer "+tok)
		hadAuth = true
	}
	return req, hadAuth, nil
}

func (c *Client) sameHost(u *neturl.URL) bool {
	return u != nil && strings.EqualFold(u.Host, c.base.Host)
}

func (c *Client) lock(name string) func() {
	v, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetModel returns a local copy of name, downloading it according to policy.
func (c *Client) GetModel(ctx context.Context, name string, policy DownloadType, progress ProgressFunc) (CustomModel, error) {
	if err := ValidateName(name); err != nil {
		return CustomModel{}, err
	}
	local, haveLocal := c.local(name)
	switch policy {
	case LocalModel:
		if haveLocal {
			c.log.Debugf("model %s: using local copy %s", name, local.Path)
			return local, nil
		}
	case LocalModelUpdateInBackground:
		if haveLocal {
			c.log.Debugf("model %s: using local copy, refreshing in background", name)
			c.bg.Add(1)
			go func() {
				defer c.bg.Done()
				if _, err := c.fetchLatest(c.bgCtx, name, local, true, true, nil); err != nil {
					c.log.Warnf("model %s: background update failed: %v", name, err)
				}
			}()
			return local, nil
		}
	case LatestModel:
	default:
		return CustomModel{}, fmt.Errorf("unknown download policy: %v", policy)
	}
	return c.fetchLatest(ctx, name, local, haveLocal, false, progress)
}

// Wait blocks until background refreshes started by GetModel have finished.
// If ctx ends first the refreshes are cancelled and Wait returns once they exit;
// refreshes started after that fail immediately.
func (c *Client) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.bgCancel()
		<-done
	}
}

func (c *Client) local(name string) (CustomModel, bool) {
	row, err := c.st.GetModel(name)
	if err != nil {
		if !errors.Is(err, state.ErrNoRow) {
			c.log.Warnf("model %s: state lookup: %v", name, err)
		}
		return CustomModel{}, false
	}
	fi, err := os.Stat(row.Path)
	if err != nil {
		c.log.Debugf("model %s: registered file missing: %v", name, err)
		return CustomModel{}, false
	}
	return CustomModel{Name: row.Name, Path: row.Path, Size: fi.Size(), Hash: row.Hash}, true
}

// fetchLatest downloads name unless the local copy matches the server hash.
// A refresh only updates a model that is still registered once the name lock is held.
func (c *Client) fetchLatest(ctx context.Context, name string, local CustomModel, haveLocal, refresh bool, progress ProgressFunc) (CustomModel, error) {
	unlock := c.lock(name)
	defer unlock()
	if refresh {
		cur, ok := c.local(name)
		if !ok {
			c.log.Debugf("model %s: removed before background refresh ran, skipping", name)
			return CustomModel{}, nil
		}
		local = cur
	}
	meta, err := c.metadata(ctx, name)
	if err != nil {
		return CustomModel{}, err
	}
	if haveLocal && meta.Hash != "" && equalHash(meta.Hash, local.Hash) {
		c.log.Debugf("model %s: local copy is current (hash %s)", name, local.Hash)
		return local, nil
	}
	start := time.Now()
	mdl, err := c.download(ctx, name, meta, progress)
	c.m.ObserveDownload(err == nil, time.Since(start).Seconds())
	c.writeMetrics()
	return mdl, err
}

func (c *Client) writeMetrics() {
	if err := c.m.Write(); err != nil {
		c.log.Debugf("metrics: %v", err)
	}
}

func (c *Client) metadata(ctx context.Context, name string) (remoteModel, error) {
	u := c.base.ResolveReference(&neturl.URL{Path: "v1/models/" + name})
	req, hadAuth, err := c.newRequest(ctx, u.String())
	if err != nil {
		return remoteModel{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return remoteModel{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return remoteModel{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return remoteModel{}, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: logging.SanitizeURL(u.String()), HadAuth: hadAuth, TokenEnv: c.cfg.Service.TokenEnv}
	}
	var meta remoteModel
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return remoteModel{}, fmt.Errorf("decode model metadata: %w", err)
	}
	if meta.DownloadURL == "" {
		return remoteModel{}, fmt.Errorf("model %s: metadata has no download_url", name)
	}
	dl, err := neturl.Parse(meta.DownloadURL)
	if err != nil {
		return remoteModel{}, fmt.Errorf("model %s: download_url: %w", name, err)
	}
	meta.DownloadURL = u.ResolveReference(dl).String()
	return meta, nil
}

func (c *Client) download(ctx context.Context, name string, meta remoteModel, progress ProgressFunc) (CustomModel, error) {
	root := c.cfg.General.DownloadRoot
	if err := os.MkdirAll(root, 0o755); err != nil {
		return CustomModel{}, err
	}
	if meta.Size > 0 {
		ok, avail, err := system.HasSufficientSpace(root, uint64(meta.Size))
		if err != nil {
			c.log.Debugf("model %s: skipping free space check: %v", name, err)
		} else if !ok {
			return CustomModel{}, fmt.Errorf("%w: need %d bytes, %d available in %s", ErrInsufficientSpace, meta.Size, avail, root)
		}
	}
	// Each model gets its own directory so names that differ only by an
	// extension never share a file.
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CustomModel{}, err
	}
	dest := filepath.Join(dir, name+artifactExt(meta.DownloadURL))
	part := dest + ".part"
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(part)
			_ = os.Remove(dir) // only succeeds when empty
		}
	}()

	req, hadAuth, err := c.newRequest(ctx, meta.DownloadURL)
	if err != nil {
		return CustomModel{}, err
	}
	c.log.Infof("model %s: downloading %s", name, logging.SanitizeURL(meta.DownloadURL))
	resp, err := c.dl.Do(req)
	if err != nil {
		return CustomModel{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CustomModel{}, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: logging.SanitizeURL(meta.DownloadURL), HadAuth: hadAuth, TokenEnv: c.cfg.Service.TokenEnv}
	}
	total := meta.Size
	if total <= 0 {
		total = resp.ContentLength
	}

	f, err := os.Create(part)
	if err != nil {
		return CustomModel{}, err
	}
	hasher := sha256.New()
	pw := &progressWriter{total: total, fn: progress}
	n, err := io.Copy(io.MultiWriter(f, hasher, pw), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return CustomModel{}, err
	}
	c.m.AddBytes(n)

	actual := hex.EncodeToString(hasher.Sum(nil))
	if meta.Hash != "" && !equalHash(meta.Hash, actual) {
		return CustomModel{}, fmt.Errorf("%w: expected=%s actual=%s", ErrHashMismatch, meta.Hash, actual)
	}
	if err := os.Rename(part, dest); err != nil {
		return CustomModel{}, err
	}
	keep = true
	pw.finish()
	if err := c.st.UpsertModel(state.ModelRow{Name: name, Path: dest, Hash: actual, Size: n}); err != nil {
		return CustomModel{}, fmt.Errorf("record model %s: %w", name, err)
	}
	c.log.Infof("model %s: stored at %s (sha256=%s)", name, dest, actual)
	return CustomModel{Name: name, Path: dest, Size: n, Hash: actual}, nil
}

// DeleteModel removes the local copy of name and its registry entry.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := c.lock(name)
	defer unlock()
	row, err := c.st.GetModel(name)
	if errors.Is(err, state.ErrNoRow) {
		return fmt.Errorf("%w: %s is not downloaded", ErrNotFound, name)
	}
	if err != nil {
		return err
	}
	if err := os.Remove(row.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if dir := filepath.Dir(row.Path); dir == filepath.Join(c.cfg.General.DownloadRoot, name) {
		_ = os.Remove(dir)
	}
	if err := c.st.DeleteModel(name); err != nil && !errors.Is(err, state.ErrNoRow) {
		return err
	}
	c.m.IncDeletes()
	c.writeMetrics()
	c.log.Infof("model %s: deleted %s", name, row.Path)
	return nil
}

// ListModels returns models whose files are still present, in download order.
func (c *Client) ListModels(ctx context.Context) ([]CustomModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.st.ListModels()
	if err != nil {
		return nil, err
	}
	out := make([]CustomModel, 0, len(rows))
	for _, r := range rows {
		fi, err := os.Stat(r.Path)
		if err != nil {
			c.log.Debugf("model %s: skipping, file missing: %v", r.Name, err)
			continue
		}
		out = append(out, CustomModel{Name: r.Name, Path: r.Path, Size: fi.Size(), Hash: r.Hash})
	}
	return out, nil
}

// progressWriter reports bytes written as a monotonic fraction of total.
type progressWriter struct {
	total   int64
	written int64
	last    float32
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		p.report(float32(float64(p.written) / float64(p.total)))
	}
	return len(b), nil
}

func (p *progressWriter) finish() { p.report(1) }

func (p *progressWriter) report(v float32) {
	if p.fn == nil {
		return
	}
	if v > 1 {
		v = 1
	}
	if v <= p.last {
		return
	}
	p.last = v
	p.fn(v)
}

func artifactExt(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 12 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func equalHash(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
