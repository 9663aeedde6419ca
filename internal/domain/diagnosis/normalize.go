package diagnosis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"garden-doctor-go/internal/platform/errors"

	"github.com/bytedance/sonic"
)

// ParseFailureMessage is the client-facing message for unparseable replies.
const ParseFailureMessage = "Failed to parse analysis result"

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\n?(.*?)\\s*```$")
)

// Normalize parses a backend reply and projects it onto Record.
//
// Only the parse step can fail: text that is not JSON, or JSON whose top level
// is not an object, is a parse error carrying the raw text in Details. Every
// missing, mistyped or blank field is then replaced with its default.
func Normalize(raw string) (Record, error) {
	const op = "diagnosis.normalize"

	obj, err := parseObject(raw)
	if err != nil {
		return Record{}, errors.Wrap(errors.KindParse, op, ParseFailureMessage, err).WithDetails(raw)
	}

	care := objectField(obj, "care_instructions")
	diag := objectField(obj, "diagnostics")
	healthy := boolField(obj, "is_healthy")

	status := stringField(diag, "status", "")
	if status == "" {
		status = StatusUnknown
		if healthy {
			status = StatusHealthy
		}
	}

	return Record{
		PlantName: stringField(obj, "plant_name", UnknownPlant),
		IsHealthy: healthy,
		Summary:   stringField(obj, "summary", NotAvailable),
		CareInstructions: CareInstructions{
			Light:       stringField(care, "light", NotAvailable),
			Water:       stringField(care, "water", NotAvailable),
			Environment: stringField(care, "environment", NotAvailable),
			Temperature: stringField(care, "temperature", NotAvailable),
		},
		Diagnostics: Diagnostics{
			Status:          status,
			Description:     stringField(diag, "description", NotAvailable),
			Recommendations: stringList(diag, "recommendations"),
		},
	}, nil
}

// ErrorEnvelope reports whether raw is an {"error": "..."} object, the shape
// the local analysis program prints when it gives up.
func ErrorEnvelope(raw string) (string, bool) {
	obj, err := parseObject(raw)
	if err != nil {
		return "", false
	}
	v, ok := obj["error"]
	if !ok || v == nil {
		return "", false
	}
	if _, hasPlant := obj["plant_name"]; hasPlant {
		return "", false
	}
	switch msg := v.(type) {
	case string:
		if strings.TrimSpace(msg) == "" {
			return "", false
		}
		return msg, true
	default:
		return fmt.Sprint(msg), true
	}
}

// Clean strips <think> blocks and a surrounding markdown fence.
func Clean(raw string) string {
	text := thinkBlock.ReplaceAllString(raw, "")
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return text
}

func parseObject(raw string) (map[string]interface{}, error) {
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("reply is not valid UTF-8")
	}
	text := Clean(raw)
	if text == "" {
		return nil, fmt.Errorf("reply is empty")
	}

	var parsed interface{}
	if err := sonic.ConfigStd.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("reply is %T, want a JSON object", parsed)
	}
	return obj, nil
}

func objectField(obj map[string]interface{}, key string) map[string]interface{} {
	if obj == nil {
		return nil
	}
	m, _ := obj[key].(map[string]interface{})
	return m
}

func stringField(obj map[string]interface{}, key, fallback string) string {
	if obj == nil {
		return fallback
	}
	s, ok := obj[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func boolField(obj map[string]interface{}, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func stringList(obj map[string]interface{}, key string) []string {
	out := []string{}
	if obj == nil {
		return out
	}
	items, ok := obj[key].([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
