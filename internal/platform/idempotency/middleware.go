package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apierr"
	"github.com/hms/hms/internal/platform/auth"
)

const (
	Header         = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"
	maxKeyLength   = 255
	DefaultTTL     = 24 * time.Hour
)

type Config struct {
	Store  Store
	TTL    time.Duration
	Logger zerolog.Logger
}

// Middleware makes POST requests carrying an Idempotency-Key safe to retry.
// The first request runs and its response is stored under the caller's id
// and the key. Retries get that response back; a retry that arrives while
// the first is still running gets 409. Keys are scoped per user, and reusing
// a key with a different body or path is rejected with 422. 5xx responses
// are not stored so the client can try again.
//
// If the store is unreachable the request runs without protection.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			key := strings.TrimSpace(req.Header.Get(Header))
			if req.Method != http.MethodPost || key == "" {
				return next(c)
			}
			if len(key) > maxKeyLength {
				return apierr.Validation("Idempotency-Key must be at most 255 characters")
			}

			var body []byte
			if req.Body != nil {
				b, err := io.ReadAll(req.Body)
				if err != nil {
					return err
				}
				body = b
				req.Body = io.NopCloser(bytes.NewReader(body))
			}

			ctx := req.Context()
			fp := fingerprint(req.URL.Path, body)
			scoped := auth.UserIDFromContext(ctx) + ":" + key

			rec, err := cfg.Store.Begin(ctx, scoped, cfg.TTL)
			switch {
			case errors.Is(err, ErrInFlight):
				return apierr.New(http.StatusConflict, apierr.KindConflict, "a request with this Idempotency-Key is still in progress")
			case err != nil:
				cfg.Logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			case rec != nil:
				if rec.Fingerprint != fp {
					return apierr.New(http.StatusUnprocessableEntity, apierr.KindValidation, "Idempotency-Key was already used for a different request")
				}
				c.Response().Header().Set(ReplayedHeader, "true")
				return c.Blob(rec.Status, rec.ContentType, rec.Body)
			}

			// The handler's context may be cancelled by the time the
			// outcome is written back.
			storeCtx := context.WithoutCancel(ctx)
			finished := false
			defer func() {
				if !finished {
					_ = cfg.Store.Abort(storeCtx, scoped)
				}
			}()

			cw := &captureWriter{ResponseWriter: c.Response().Writer}
			c.Response().Writer = cw

			if err := next(c); err != nil {
				c.Error(err)
			}

			res := c.Response()
			if res.Status >= http.StatusInternalServerError || !res.Committed {
				return nil
			}
			err = cfg.Store.Finish(storeCtx, scoped, Record{
				Fingerprint: fp,
				Status:      res.Status,
				ContentType: res.Header().Get(echo.HeaderContentType),
				Body:        cw.buf.Bytes(),
			}, cfg.TTL)
			if err != nil {
				cfg.Logger.Warn().Err(err).Msg("storing idempotent response")
				return nil
			}
			finished = true
			return nil
		}
	}
}

func fingerprint(path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter tees the response body so it can be stored.
type captureWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
