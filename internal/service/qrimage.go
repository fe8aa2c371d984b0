package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/agrichain/internal/identifier"
)

var qrTracer = otel.Tracer("qrimage")

const (
	DefaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
	qrCacheTTL    = 24 * 60 * 60
)

// QRImageService renders QR PNGs and caches them in memcached when one is
// configured. Cache failures fall through to rendering.
type QRImageService struct {
	mc *memcache.Client
}

func NewQRImageService(mc *memcache.Client) *QRImageService {
	return &QRImageService{mc: mc}
}

// ClampQRSize bounds a requested pixel size.
func ClampQRSize(size int) int {
	switch {
	case size <= 0:
		return DefaultQRSize
	case size < minQRSize:
		return minQRSize
	case size > maxQRSize:
		return maxQRSize
	}
	return size
}

func cacheKey(payload string, size int) string {
	return "qr:" + strconv.FormatUint(xxh3.HashString(payload+"@"+strconv.Itoa(size)), 16)
}

func (s *QRImageService) PNG(ctx context.Context, payload string, size int) ([]byte, error) {
	ctx, span := qrTracer.Start(ctx, "QRImage.Service.PNG")
	defer span.End()

	size = ClampQRSize(size)
	key := cacheKey(payload, size)

	if s.mc != nil {
		item, err := s.mc.Get(key)
		if err == nil {
			span.SetAttributes(attribute.Bool("CacheHit", true))
			return item.Value, nil
		}
		if err != memcache.ErrCacheMiss {
			slog.WarnContext(ctx, "qr cache read failed", "err", err)
		}
	}

	png, err := identifier.QRPNG(payload, size)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.mc != nil {
		if err := s.mc.Set(&memcache.Item{Key: key, Value: png, Expiration: qrCacheTTL}); err != nil {
			slog.WarnContext(ctx, "qr cache write failed", "err", err)
		}
	}

	return png, nil
}
