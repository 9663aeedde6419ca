package vlllm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/domain/diagnosis"
	domainimage "garden-doctor-go/internal/domain/image"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/logging"

	"github.com/sashabaranov/go-openai"
)

const Name = "remote"

// Config 远程多模态模型配置
type Config struct {
	ModelName   string
	BaseURL     string
	APIKey      string
	Referer     string
	Title       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// HTTPClient 为空时使用默认客户端
	HTTPClient *http.Client
}

// Provider sends the image and the diagnosis prompt to an OpenAI-compatible
// chat completion endpoint (OpenRouter by default).
type Provider struct {
	config *Config
	logger *logging.Logger

	once         sync.Once
	openaiClient *openai.Client
}

var _ providers.Backend = (*Provider)(nil)

// NewProvider 创建远程模型提供者
func NewProvider(config *Config, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Provider{
		config: config,
		logger: logger,
	}
}

func (p *Provider) Name() string { return Name }

// Initialize only logs; a missing key is reported per request.
func (p *Provider) Initialize() error {
	if strings.TrimSpace(p.config.APIKey) == "" {
		p.logger.WarnTag("远程模型", "未配置 OPENROUTER_API_KEY，分析请求将返回配置错误")
		return nil
	}
	p.logger.InfoTag("远程模型", "初始化成功: base_url=%s model_name=%s", p.config.BaseURL, p.config.ModelName)
	return nil
}

func (p *Provider) Cleanup() error {
	p.logger.DebugTag("远程模型", "provider cleaned up")
	return nil
}

func (p *Provider) client() *openai.Client {
	p.once.Do(func() {
		clientConfig := openai.DefaultConfig(p.config.APIKey)
		if p.config.BaseURL != "" {
			clientConfig.BaseURL = p.config.BaseURL
		}

		base := http.DefaultTransport
		if p.config.HTTPClient != nil && p.config.HTTPClient.Transport != nil {
			base = p.config.HTTPClient.Transport
		}
		headers := map[string]string{}
		if p.config.Referer != "" {
			headers["HTTP-Referer"] = p.config.Referer
		}
		if p.config.Title != "" {
			headers["X-Title"] = p.config.Title
		}
		clientConfig.HTTPClient = &http.Client{Transport: &headerTransport{base: base, headers: headers}}

		p.openaiClient = openai.NewClientWithConfig(clientConfig)
	})
	return p.openaiClient
}

// Invoke makes exactly one chat completion call and returns the reply text.
func (p *Provider) Invoke(ctx context.Context, img providers.Image) (string, error) {
	const op = "vlllm.invoke"

	if strings.TrimSpace(p.config.APIKey) == "" {
		return "", errors.New(errors.KindConfig, op, "API key not configured").
			WithDetails("OPENROUTER_API_KEY is not set")
	}

	payload := domainimage.Encode(img.Base64)
	if payload == "" {
		return "", errors.New(errors.KindBadRequest, op, "image payload is empty")
	}

	request := openai.ChatCompletionRequest{
		Model: p.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: diagnosis.Prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: domainimage.ToDataURI(payload, img.MediaType),
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
		MaxTokens:   p.config.MaxTokens,
	}

	start := time.Now()
	p.logger.DebugTag("远程模型", "调用视觉模型: model_name=%s image_bytes=%d media_type=%s",
		p.config.ModelName, len(img.Bytes), img.MediaType)

	resp, err := p.client().CreateChatCompletion(ctx, request)
	if err != nil {
		p.logger.ErrorTag("远程模型", "调用失败: %v", err)
		return "", errors.Wrap(errors.KindUpstream, op, "Analysis failed", err).WithDetails(upstreamDetails(ctx, err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.KindUpstream, op, "Analysis failed").
			WithDetails("model returned no choices")
	}

	content := resp.Choices[0].Message.Content
	p.logger.InfoTag("远程模型", "调用成功: model=%s 耗时=%s 回复长度=%d", resp.Model, time.Since(start), len(content))
	return content, nil
}

func upstreamDetails(ctx context.Context, err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "request to the model timed out"
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return fmt.Sprintf("status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}

// headerTransport adds the OpenRouter attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}
