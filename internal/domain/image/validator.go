package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"garden-doctor-go/internal/platform/config"
	"garden-doctor-go/internal/platform/logging"
)

// SecurityValidator performs layered checks against incoming image payloads.
type SecurityValidator struct {
	config *config.SecurityConfig
	logger *logging.Logger
}

func NewSecurityValidator(cfg *config.SecurityConfig, logger *logging.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: cfg,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// 可执行文件与压缩包特征
var suspiciousSignatures = [][]byte{
	{0x4D, 0x5A},
	{0x25, 0x50, 0x44, 0x46},
	{0x50, 0x4B, 0x03, 0x04},
	{0x1F, 0x8B, 0x08},
}

// ValidateBytes checks size and format. Decoding (dimensions, pixel count) only
// runs when security.enable_decode_check is on; otherwise unknown formats are
// trusted and handed to the backend as-is.
func (v *SecurityValidator) ValidateBytes(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{Format: declaredFormat}

	if len(raw) == 0 {
		result.Error = fmt.Errorf("empty image payload")
		return result
	}
	result.FileSize = int64(len(raw))

	if v.config.MaxFileSize > 0 && int64(len(raw)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("file size exceeds limit: %d bytes (max %d bytes)", len(raw), v.config.MaxFileSize)
		result.SecurityRisk = "file too large"
		v.logger.WarnTag("分析", "图片过大: size=%d max_size=%d format=%s", len(raw), v.config.MaxFileSize, declaredFormat)
		return result
	}

	if !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", declaredFormat)
		result.SecurityRisk = "unapproved format"
		return result
	}

	if sig := matchSuspicious(raw); sig != "" {
		result.Error = fmt.Errorf("payload looks like a non-image file")
		result.SecurityRisk = "suspicious content"
		v.logger.WarnTag("分析", "检测到可疑文件头: signature_hex=%s", sig)
		return result
	}

	if declaredFormat != "" && !v.validateFileSignature(raw, declaredFormat) {
		v.logger.DebugTag("分析", "文件头与声明格式不一致: declared_format=%s actual_header=%x",
			declaredFormat, raw[:min(len(raw), 16)])
	}

	if !v.config.EnableDecodeCheck {
		result.IsValid = true
		return result
	}
	return v.validateImageDecoding(raw, declaredFormat)
}

func (v *SecurityValidator) isFormatAllowed(format string) bool {
	if format == "" || len(v.config.AllowedFormats) == 0 {
		return true
	}
	format = strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateFileSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok {
		return true
	}
	return bytes.HasPrefix(raw, signature)
}

func matchSuspicious(raw []byte) string {
	for _, sig := range suspiciousSignatures {
		if bytes.HasPrefix(raw, sig) {
			return fmt.Sprintf("%x", sig)
		}
	}
	return ""
}

func (v *SecurityValidator) validateImageDecoding(raw []byte, format string) ValidationResult {
	result := ValidationResult{Format: format, FileSize: int64(len(raw))}

	cfg, actualFormat, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		result.Error = fmt.Errorf("decode image config: %w", err)
		result.SecurityRisk = "corrupted image data"
		return result
	}
	if actualFormat != "" {
		result.Format = actualFormat
	}

	if (v.config.MaxWidth > 0 && cfg.Width > v.config.MaxWidth) ||
		(v.config.MaxHeight > 0 && cfg.Height > v.config.MaxHeight) {
		result.Error = fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "dimensions too large"
		return result
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("pixel count exceeds limit: %d (max %d)", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "pixel count too high"
		return result
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height

	v.logger.DebugTag("分析", "图片解码校验通过: format=%s width=%d height=%d size=%d",
		result.Format, result.Width, result.Height, result.FileSize)
	return result
}
