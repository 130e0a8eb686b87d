package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tripletake/tripletake/internal/models"
)

// decompressMiddleware handles decompression of request bodies based on
// Content-Encoding. Supports zstd; bodies without a Content-Encoding header
// pass through untouched.
func decompressMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := r.Header.Get("Content-Encoding")

			if encoding == "" {
				next.ServeHTTP(w, r)
				return
			}

			if strings.EqualFold(encoding, "zstd") {
				decoder, err := zstd.NewReader(r.Body)
				if err != nil {
					respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "failed to create zstd decoder")
					return
				}
				defer decoder.Close()

				// Downstream handlers see the uncompressed stream.
				r.Body = io.NopCloser(decoder)
				r.Header.Del("Content-Encoding")
				r.Header.Del("Content-Length")
				r.ContentLength = -1

				next.ServeHTTP(w, r)
				return
			}

			respondError(w, http.StatusUnsupportedMediaType, models.CodeInvalidMetadata,
				"unsupported Content-Encoding: "+encoding)
		})
	}
}
