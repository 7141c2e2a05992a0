// Package archivehost serves a storage backend over HTTP, and provides the
// client transport archives use to reach such a host.
//
// Items are addressed under /archive/:
//
//	HEAD   /archive/<item>  check
//	GET    /archive/<item>  retrieve; MD5 of the body in the X-Checksum-Md5 trailer
//	PUT    /archive/<item>  insert; an X-Checksum-Md5 trailer is verified when sent
//	DELETE /archive/<item>  delete
//
// When a secret is set, requests need a HS256 bearer token; writes need the
// "write" scope. Request metrics are exposed on /metrics.
package archivehost

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/utils/checksum"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ArchivePrefix is the path prefix of items.
const ArchivePrefix = "/archive"

type Host struct {
	storage  backends.Backend
	secret   []byte
	readonly bool
	tmpdir   string
	logger   *log.Logger
	registry *prometheus.Registry
	metrics  *metrics
}

type Option func(*Host) *Host

// WithSecret enables bearer token authentication.
func WithSecret(secret []byte) Option {
	return func(h *Host) *Host {
		h.secret = secret
		return h
	}
}

// ReadOnly refuses PUT and DELETE with 403.
func ReadOnly(readonly bool) Option {
	return func(h *Host) *Host {
		h.readonly = readonly
		return h
	}
}

// WithTempDir sets where transferred bodies are staged.
func WithTempDir(dir string) Option {
	return func(h *Host) *Host {
		h.tmpdir = dir
		return h
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Host) *Host {
		h.logger = l
		return h
	}
}

// WithRegistry registers metrics into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Host) *Host {
		h.registry = reg
		return h
	}
}

func New(storage backends.Backend, options ...Option) *Host {
	h := &Host{storage: storage}
	for _, opt := range options {
		h = opt(h)
	}
	h.logger = logger.Or(h.logger)
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
	}
	h.metrics = newMetrics(h.registry)
	return h
}

// Echo returns a server routing every endpoint of the host.
func (h *Host) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h.Route(e)
	return e
}

// Route registers endpoints of the host into e.
func (h *Host) Route(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))

	g := e.Group(ArchivePrefix, h.measure)
	if len(h.secret) != 0 {
		g.Use(h.authenticate)
	}
	g.HEAD("/*", h.check)
	g.GET("/*", h.retrieve)
	g.PUT("/*", h.insert)
	g.DELETE("/*", h.delete)
}

func item(c echo.Context) (string, error) {
	p := path.Clean("/" + c.Param("*"))
	if p == "/" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "item is missing")
	}
	return strings.TrimPrefix(p, "/"), nil
}

func (h *Host) check(c echo.Context) error {
	it, err := item(c)
	if err != nil {
		return err
	}
	st, err := h.storage.Check(c.Request().Context(), it, backends.TransferOptions{Silent: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if st == nil || st.IsDir {
		return c.NoContent(http.StatusNotFound)
	}
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(st.Size, 10))
	resp.Header().Set(echo.HeaderLastModified, st.ModTime.UTC().Format(http.TimeFormat))
	return c.NoContent(http.StatusOK)
}

func (h *Host) staging(pattern string) (string, func(), error) {
	f, err := os.CreateTemp(h.tmpdir, pattern)
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	f.Close()
	return name, func() { os.RemoveAll(name) }, nil
}

func (h *Host) retrieve(c echo.Context) error {
	it, err := item(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	st, err := h.storage.Check(ctx, it, backends.TransferOptions{Silent: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if st == nil {
		return c.NoContent(http.StatusNotFound)
	}
	if st.IsDir {
		return echo.NewHTTPError(http.StatusConflict, "item is a directory")
	}

	tmp, cleanup, err := h.staging("retrieve-*")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer cleanup()
	ok, err := h.storage.Retrieve(ctx, it, tmp, backends.TransferOptions{Intent: backends.IntentIn})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot retrieve "+it)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer f.Close()

	resp := c.Response()
	resp.Header().Add("Trailer", checksum.HeaderMD5)
	resp.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	resp.Header().Set(echo.HeaderLastModified, st.ModTime.UTC().Format(http.TimeFormat))
	resp.WriteHeader(http.StatusOK)

	w := checksum.NewWriter(resp)
	n, err := io.Copy(w, f)
	h.metrics.bytes.WithLabelValues("out").Add(float64(n))
	if err != nil {
		h.logger.Printf("[ERROR] archivehost: sending %s: %s", it, err)
		return nil
	}
	resp.Header().Set(checksum.HeaderMD5, w.Hex())
	return nil
}

func (h *Host) insert(c echo.Context) error {
	if h.readonly {
		return echo.NewHTTPError(http.StatusForbidden, "archive host is read-only")
	}
	it, err := item(c)
	if err != nil {
		return err
	}

	tmp, cleanup, err := h.staging("insert-*")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer cleanup()

	req := c.Request()
	body := checksum.NewReader(req.Body)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, os.FileMode(0644))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	n, err := io.Copy(f, body)
	f.Close()
	h.metrics.bytes.WithLabelValues("in").Add(float64(n))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body: "+err.Error())
	}

	// trailers are readable once the body is consumed.
	if sum := req.Trailer.Get(checksum.HeaderMD5); sum != "" && sum != body.Hex() {
		return echo.NewHTTPError(http.StatusBadRequest, "checksum mismatch")
	}

	ok, err := h.storage.Insert(req.Context(), it, tmp, backends.TransferOptions{Intent: backends.IntentIn})
	if err != nil {
		return storageError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot insert "+it)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Host) delete(c echo.Context) error {
	if h.readonly {
		return echo.NewHTTPError(http.StatusForbidden, "archive host is read-only")
	}
	it, err := item(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	st, err := h.storage.Check(ctx, it, backends.TransferOptions{Silent: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if st == nil {
		return c.NoContent(http.StatusNotFound)
	}
	ok, err := h.storage.Delete(ctx, it, backends.TransferOptions{})
	if err != nil {
		return storageError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot delete "+it)
	}
	return c.NoContent(http.StatusNoContent)
}

func storageError(err error) error {
	switch {
	case errors.Is(err, xe.ErrReadOnly):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, xe.ErrInvalidRemote):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_archivehost_requests_total",
				Help: "Number of requests on archived items.",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vortex_archivehost_request_duration_seconds",
				Help:    "Duration of requests on archived items.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_archivehost_transferred_bytes_total",
				Help: "Bytes of item bodies, by direction.",
			},
			[]string{"direction"},
		),
	}
	reg.MustRegister(m.requests, m.duration, m.bytes)
	return m
}

func (h *Host) measure(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		method := c.Request().Method

		code := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		} else if err != nil {
			code = http.StatusInternalServerError
		}
		h.metrics.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
		h.metrics.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return err
	}
}
