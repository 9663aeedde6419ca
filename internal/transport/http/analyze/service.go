package analyze

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"garden-doctor-go/internal/domain/analysis"
	"garden-doctor-go/internal/domain/diagnosis/store"
	"garden-doctor-go/internal/domain/image"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/logging"
	httptransport "garden-doctor-go/internal/transport/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

const defaultMaxImageBytes = 10 * 1024 * 1024

// Options 分析服务依赖
type Options struct {
	Dispatcher *analysis.Dispatcher
	// Pipeline 仅用于状态接口中的计数
	Pipeline *image.Pipeline
	Cache    store.Store
	Logger   *logging.Logger
	// MaxImageBytes 上传图片的大小上限
	MaxImageBytes int64
}

// Service exposes the analysis endpoints over HTTP.
type Service struct {
	dispatcher    *analysis.Dispatcher
	pipeline      *image.Pipeline
	cache         store.Store
	logger        *logging.Logger
	maxImageBytes int64
}

// NewService 创建分析服务
func NewService(opts Options) (*Service, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New(errors.KindTransport, "analyze.new", "dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaultMaxImageBytes
	}
	return &Service{
		dispatcher:    opts.Dispatcher,
		pipeline:      opts.Pipeline,
		cache:         opts.Cache,
		logger:        opts.Logger,
		maxImageBytes: opts.MaxImageBytes,
	}, nil
}

// Register 注册分析相关路由
func (s *Service) Register(ctx context.Context, router *httptransport.Router) {
	router.Engine.POST("/analyze", s.handleMultipart)
	router.API.POST("/analyze", s.handleJSON)
	router.API.GET("/status", s.handleStatus)

	s.logger.InfoTag("HTTP", "分析服务路由注册完成: backend=%s", s.dispatcher.Backend())
}

// handleJSON 处理 JSON 图片分析请求
// @Summary Diagnose a plant (JSON)
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body AnalyzeRequest true "Image payload"
// @Success 200 {object} diagnosis.Record
// @Failure 400 {object} ErrorResponse
// @Failure 405 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/analyze [post]
func (s *Service) handleJSON(c *gin.Context) {
	// base64 膨胀约 4/3，再留出 JSON 外壳的余量
	limit := s.maxImageBytes*4/3 + 64*1024
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		s.respondJSONError(c, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	var req AnalyzeRequest
	if len(body) > 0 {
		if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
			s.respondJSONError(c, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
			return
		}
	}

	if strings.TrimSpace(req.Image) == "" {
		s.respondJSONError(c, http.StatusBadRequest, ErrorResponse{Error: "No image provided"})
		return
	}

	// 两种后端都只接收原始字节，解不开的负载在这里以 400 拒绝
	mediaType, payload := image.ParseDataURI(strings.TrimSpace(req.Image))
	data, err := image.DecodeBase64(payload)
	if err != nil {
		s.respondJSONError(c, http.StatusBadRequest, ErrorResponse{Error: "Invalid image data", Details: err.Error()})
		return
	}

	record, errRecord := s.dispatcher.Analyze(c.Request.Context(), analysis.Request{
		ImageBytes: data,
		MediaType:  mediaType,
	})
	if errRecord != nil {
		s.respondJSONError(c, errRecord.Status, ErrorResponse{Error: errRecord.Error, Details: errRecord.Details})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleMultipart 处理表单上传的图片分析请求
// @Summary Diagnose a plant (multipart)
// @Tags Analysis
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Plant photo"
// @Success 200 {object} diagnosis.Record
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /analyze [post]
func (s *Service) handleMultipart(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		s.logger.DebugTag("HTTP", "未找到上传文件: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No image uploaded"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No image uploaded", Details: err.Error()})
		return
	}
	defer file.Close()

	// 多读一个字节，超限由管线统一拒绝
	data, err := io.ReadAll(io.LimitReader(file, s.maxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read upload", Details: err.Error()})
		return
	}

	record, errRecord := s.dispatcher.Analyze(c.Request.Context(), analysis.Request{
		ImageBytes: data,
		MediaType:  fileHeader.Header.Get("Content-Type"),
		Filename:   fileHeader.Filename,
	})
	if errRecord != nil {
		c.JSON(errRecord.Status, ErrorResponse{
			Error:   errRecord.Error,
			Details: errRecord.Details,
			Message: errRecord.Message,
		})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleStatus 返回当前后端与缓存状态
// @Summary Service status
// @Tags System
// @Produce json
// @Success 200 {object} httptransport.APIResponse
// @Router /api/status [get]
func (s *Service) handleStatus(c *gin.Context) {
	data := StatusData{Backend: s.dispatcher.Backend()}

	if s.cache != nil {
		stats, err := s.cache.Stats(c.Request.Context())
		if err != nil {
			s.logger.WarnTag("缓存", "读取缓存统计失败: %v", err)
			stats = map[string]any{"error": err.Error()}
		}
		data.Cache = stats
	}
	if s.pipeline != nil {
		m := s.pipeline.Metrics()
		data.Pipeline = PipelineStats{
			TotalProcessed:    m.TotalProcessed,
			FailedValidations: m.FailedValidations,
			SecurityIncidents: m.SecurityIncidents,
		}
	}

	httptransport.RespondSuccess(c, http.StatusOK, data, fmt.Sprintf("analysis backend %s is ready", data.Backend))
}

// /api/analyze 只返回 error 与 details
func (s *Service) respondJSONError(c *gin.Context, status int, resp ErrorResponse) {
	resp.Message = ""
	c.JSON(status, resp)
}
