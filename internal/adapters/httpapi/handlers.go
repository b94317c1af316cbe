package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
	"github.com/ghalamif/AegisAgent/internal/request"
)

// ErrorDocument is the body of every failed request.
type ErrorDocument struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNoDevice, domain.KindAssetNotFound:
		return http.StatusNotFound
	case domain.KindUnsupported:
		return http.StatusNotImplemented
	case domain.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		s.obs.LogError("http_request_failed", err, ports.F("path", c.Request.URL.Path))
	}
	s.render(c, statusOf(kind), ErrorDocument{ErrorCode: kind.String(), Message: err.Error()})
	c.Abort()
}

func (s *Server) render(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.obs.LogError("http_encode_failed", err, ports.F("path", c.Request.URL.Path))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func (s *Server) probe(c *gin.Context) {
	resp, err := s.svc.GetDeviceModel(c.Param("device"))
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := probeDocument(resp)
	if err != nil {
		s.fail(c, domain.WrapError(domain.KindInternal, err, "encode device model"))
		return
	}
	s.render(c, http.StatusOK, doc)
}

func (s *Server) current(c *gin.Context) {
	at, err := optionalUint(c, "at")
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.svc.GetCurrent(request.CurrentRequest{
		Device:      c.Param("device"),
		At:          at,
		DataItemIDs: list(c.Query("ids"), ","),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, resp)
}

func (s *Server) sample(c *gin.Context) {
	req, err := sampleRequest(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	_, hasInterval := c.GetQuery("interval")
	_, hasHeartbeat := c.GetQuery("heartbeat")
	if hasInterval || hasHeartbeat {
		s.stream(c, req)
		return
	}
	resp, err := s.svc.GetSample(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, resp)
}

func (s *Server) assets(c *gin.Context) {
	count, err := optionalInt(c, "count")
	if err != nil {
		s.fail(c, err)
		return
	}
	removed, err := optionalBool(c, "removed")
	if err != nil {
		s.fail(c, err)
		return
	}
	device := c.Param("device")
	if device == "" {
		device = c.Query("device")
	}
	resp, err := s.svc.GetAssets(request.AssetsRequest{
		Device:         device,
		Type:           c.Query("type"),
		IncludeRemoved: removed,
		Count:          count,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, resp)
}

// asset answers /asset/A;B with the named assets.
func (s *Server) asset(c *gin.Context) {
	ids := list(c.Param("ids"), ";")
	if len(ids) == 0 {
		s.fail(c, domain.NewError(domain.KindInvalidRequest, "no asset id given"))
		return
	}
	resp, err := s.svc.GetAssets(request.AssetsRequest{IDs: ids})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, resp)
}

func sampleRequest(c *gin.Context) (request.SampleRequest, error) {
	req := request.SampleRequest{Device: c.Param("device"), DataItemIDs: list(c.Query("ids"), ",")}
	var err error
	if req.From, err = optionalUint(c, "from"); err != nil {
		return req, err
	}
	if req.Count, err = optionalInt(c, "count"); err != nil {
		return req, err
	}
	if req.Interval, err = millis(c, "interval"); err != nil {
		return req, err
	}
	if req.Heartbeat, err = millis(c, "heartbeat"); err != nil {
		return req, err
	}
	return req, nil
}

func list(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalUint(c *gin.Context, name string) (*uint64, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, "'%s' must be a positive integer, got %q", name, raw)
	}
	return &v, nil
}

func optionalInt(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewError(domain.KindInvalidRequest, "'%s' must be an integer, got %q", name, raw)
	}
	return v, nil
}

func optionalBool(c *gin.Context, name string) (bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, "'%s' must be true or false, got %q", name, raw)
	}
	return v, nil
}

func millis(c *gin.Context, name string) (time.Duration, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, domain.NewError(domain.KindInvalidRequest, "'%s' must be milliseconds, got %q", name, raw)
	}
	return time.Duration(v) * time.Millisecond, nil
}
