package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ghalamif/AegisAgent/internal/ports"
	"github.com/ghalamif/AegisAgent/internal/request"
)

// stream answers a sample request as multipart/x-mixed-replace: one JSON part
// per window, an empty part per heartbeat. Headers are only committed by the
// first part, so a request rejected up front still gets an error document.
func (s *Server) stream(c *gin.Context, req request.SampleRequest) {
	boundary := uuid.NewString()
	started := false
	w := c.Writer

	err := s.svc.StreamSample(c.Request.Context(), req, func(resp request.SampleResponse) error {
		var body []byte
		if !resp.Empty() {
			var err error
			if body, err = json.Marshal(resp); err != nil {
				return err
			}
		}
		if !started {
			w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+boundary)
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-type: application/json\r\nContent-length: %d\r\n\r\n", boundary, len(body)); err != nil {
			return err
		}
		if _, err := w.Write(append(body, '\r', '\n')); err != nil {
			return err
		}
		w.Flush()
		return nil
	})
	if err == nil {
		return
	}
	if !started {
		s.fail(c, err)
		return
	}
	s.obs.LogWarn("http_stream_ended", err, ports.F("path", c.Request.URL.Path))
}
