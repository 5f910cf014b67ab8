// Package server — HTTP-клиент сервера присутствия: опрос счётчика онлайна
// (GET /count) и проверка/загрузка обновления прошивки. Каждый запрос ограничен
// таймаутом, так что управляющий цикл не зависает на медленном сервере.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"presence-bell/internal/domain/update"
	"presence-bell/internal/infra/logger"
)

const (
	// HeaderFirmwareVersion несёт текущую версию прошивки в запросе обновления.
	HeaderFirmwareVersion = "X-Firmware-Version"
	// HeaderDeviceID несёт постоянный идентификатор экземпляра устройства.
	HeaderDeviceID = "X-Device-Id"

	defaultRequestTimeout = 10 * time.Second
	defaultUpdateTimeout  = 60 * time.Second
	maxErrorBody          = 256
)

// Installer принимает образ прошивки. size<=0 — размер неизвестен.
type Installer interface {
	Install(r io.Reader, size int64) (int64, error)
}

// Options — параметры клиента.
type Options struct {
	BaseURL       string // http://host:port без завершающего "/"
	UpdateURL     string
	DeviceID      string
	CountTimeout  time.Duration
	UpdateTimeout time.Duration
	Installer     Installer
	HTTPClient    *http.Client // nil — собственный клиент без общего таймаута
}

// Client реализует counter.Fetcher и update.Checker.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient создаёт клиент. Таймауты задаются на уровне контекста запроса:
// общий Timeout http.Client оборвал бы долгую загрузку образа.
func NewClient(opts Options) *Client {
	if opts.CountTimeout <= 0 {
		opts.CountTimeout = defaultRequestTimeout
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = defaultUpdateTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{opts: opts, http: hc}
}

type countResponse struct {
	Count *int `json:"count"`
}

// FetchCount запрашивает {BaseURL}/count и ожидает {"count": <int>}.
func (c *Client) FetchCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CountTimeout)
	defer cancel()

	var out countResponse
	if err := c.get(ctx, c.opts.BaseURL+"/count", &out); err != nil {
		return 0, err
	}
	if out.Count == nil {
		return 0, errors.New("GET /count: missing count field")
	}
	return *out.Count, nil
}

// CheckAndInstall спрашивает сервер обновлений, есть ли образ новее currentVersion.
// 304/204 — обновления нет; 200 — тело потоково передаётся установщику с отчётом о
// прогрессе. Весь обмен ограничен UpdateTimeout.
func (c *Client) CheckAndInstall(ctx context.Context, currentVersion string, progress update.ProgressFunc) (update.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.UpdateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.UpdateURL, nil)
	if err != nil {
		return update.NoUpdate, errors.Wrap(err, "build update request")
	}
	req.Header.Set(HeaderFirmwareVersion, currentVersion)
	c.setDevice(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return update.NoUpdate, errors.Wrap(err, "update request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified, http.StatusNoContent:
		return update.NoUpdate, nil
	case http.StatusOK:
	default:
		return update.NoUpdate, statusError("GET update", resp)
	}

	if c.opts.Installer == nil {
		return update.NoUpdate, errors.New("update available but no installer configured")
	}

	logger.Info("Firmware update available",
		zap.String("current", currentVersion),
		zap.String("offered", resp.Header.Get(HeaderFirmwareVersion)),
		zap.Int64("size", resp.ContentLength),
	)

	body := &progressReader{r: resp.Body, total: resp.ContentLength, report: progress}
	if progress != nil {
		progress(0, resp.ContentLength)
	}
	n, err := c.opts.Installer.Install(body, resp.ContentLength)
	if err != nil {
		return update.NoUpdate, errors.Wrap(err, "install")
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return update.NoUpdate, errors.Errorf("short image: %d of %d bytes", n, resp.ContentLength)
	}
	return update.InstalledUpdate, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setDevice(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return statusError("GET "+req.URL.Path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "GET %s: decode", req.URL.Path)
	}
	return nil
}

func (c *Client) setDevice(req *http.Request) {
	if c.opts.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, c.opts.DeviceID)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return errors.Errorf("%s: %d %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

// progressReader сообщает о каждом прочитанном куске тела.
type progressReader struct {
	r      io.Reader
	done   int64
	total  int64
	report update.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.report != nil {
			p.report(p.done, p.total)
		}
	}
	return n, err
}
