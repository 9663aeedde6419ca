package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync/atomic"

	"garden-doctor-go/internal/platform/config"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/logging"
)

// Pipeline streams image bytes through a size limit and a base64 encoder, then validates them.
type Pipeline struct {
	validator *SecurityValidator
	logger    *logging.Logger
	security  *config.SecurityConfig

	processed atomic.Int64
	failed    atomic.Int64
	incidents atomic.Int64
}

// Options configures the pipeline behaviour.
type Options struct {
	Security *config.SecurityConfig
	Logger   *logging.Logger
}

// Input describes a streaming image payload.
type Input struct {
	Reader io.Reader
	// MediaType 调用方声明的类型，可为空
	MediaType string
	Filename  string
}

// Output contains the sanitised artefacts produced by the pipeline.
type Output struct {
	Base64     string
	Bytes      []byte
	MediaType  string
	Extension  string
	Format     string
	Validation ValidationResult
}

// NewPipeline constructs a streaming image pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Security == nil {
		return nil, fmt.Errorf("security config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}

	return &Pipeline{
		validator: NewSecurityValidator(opts.Security, opts.Logger),
		logger:    opts.Logger,
		security:  opts.Security,
	}, nil
}

// Process reads the input once, producing raw bytes and their base64 text.
// Every failure is a bad_request error.
func (p *Pipeline) Process(ctx context.Context, input Input) (*Output, error) {
	const op = "image.pipeline.process"

	if input.Reader == nil {
		return nil, errors.New(errors.KindBadRequest, op, "image reader is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindBadRequest, op, "request cancelled", err)
	}

	maxSize := p.security.MaxFileSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	limited := &io.LimitedReader{R: input.Reader, N: maxSize + 1}

	rawBuf := bytes.NewBuffer(make([]byte, 0, 32*1024))
	base64Buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
	encoder := base64.NewEncoder(base64.StdEncoding, base64Buf)

	if _, err := io.Copy(io.MultiWriter(rawBuf, encoder), limited); err != nil {
		return nil, errors.Wrap(errors.KindBadRequest, op, "stream image bytes", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrap(errors.KindBadRequest, op, "finalise base64 encoding", err)
	}

	p.processed.Add(1)

	if limited.N <= 0 {
		p.failed.Add(1)
		return nil, errors.New(errors.KindBadRequest, op,
			fmt.Sprintf("image exceeds maximum size of %d bytes", maxSize))
	}

	raw := rawBuf.Bytes()
	if len(raw) == 0 {
		p.failed.Add(1)
		return nil, errors.New(errors.KindBadRequest, op, "image data is empty")
	}

	mediaType := ResolveMediaType(input.MediaType, raw)
	validation := p.validator.ValidateBytes(raw, FormatOf(mediaType))
	if !validation.IsValid {
		p.failed.Add(1)
		if validation.SecurityRisk != "" {
			p.incidents.Add(1)
		}
		msg := "image validation failed"
		if validation.Error != nil {
			msg = validation.Error.Error()
		}
		return nil, errors.New(errors.KindBadRequest, op, msg).WithDetails(validation.SecurityRisk)
	}

	return &Output{
		Base64:     base64Buf.String(),
		Bytes:      raw,
		MediaType:  mediaType,
		Extension:  ExtensionFor(mediaType, input.Filename),
		Format:     validation.Format,
		Validation: validation,
	}, nil
}

// Metrics returns a snapshot of pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		TotalProcessed:    p.processed.Load(),
		FailedValidations: p.failed.Load(),
		SecurityIncidents: p.incidents.Load(),
	}
}
