package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"qbank_backend/internal/config"
)

// AIService 封装OpenAI兼容接口：对话补全、文本嵌入、JSON修复。
// 三个能力都是尽力而为：嵌入不可用返回 nil 向量，调用方跳过增强而不是报错。
type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []AIChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ErrAINotConfigured 未配置base_url时所有补全调用返回此错误
var ErrAINotConfigured = errors.New("ai service is not configured")

// Complete 单次补全调用。system为空时只发用户消息。
func (s *AIService) Complete(ctx context.Context, prompt, system string) (string, error) {
	if s.config.BaseURL == "" {
		return "", ErrAINotConfigured
	}
	messages := []AIChatMessage{}
	if system != "" {
		messages = append(messages, AIChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, AIChatMessage{Role: "user", Content: prompt})

	reqBody := ChatCompletionRequest{
		Model:    s.config.Model,
		Messages: messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var completion ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", err
	}
	if completion.Error != nil {
		return "", fmt.Errorf("AI API error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("AI API returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed 文本嵌入。嵌入模型未配置时返回 (nil, nil)，表示"不可用，跳过增强"。
func (s *AIService) Embed(ctx context.Context, text string) ([]float64, error) {
	if s.config.EmbeddingModel == "" || s.config.BaseURL == "" {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Model: s.config.EmbeddingModel,
		Input: []string{text},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embedding embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedding); err != nil {
		return nil, err
	}
	if embedding.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", embedding.Error.Message)
	}
	if len(embedding.Data) == 0 {
		return nil, nil
	}

	return embedding.Data[0].Embedding, nil
}

// RepairJSON 让模型把畸形输出修成合法JSON，只调用一次
func (s *AIService) RepairJSON(ctx context.Context, malformed string) (json.RawMessage, error) {
	prompt := fmt.Sprintf(
		"The following text was supposed to be a single valid JSON object but is malformed. "+
			"Return ONLY the corrected JSON object, no explanation, no markdown fences.\n\n%s",
		malformed,
	)

	fixed, err := s.Complete(ctx, prompt, "")
	if err != nil {
		return nil, err
	}

	raw, ok := ExtractJSON(fixed)
	if !ok {
		return nil, fmt.Errorf("repair produced no parseable JSON")
	}
	return raw, nil
}

// ExtractJSON 从模型输出里抠出第一个完整的JSON对象：
// 去掉markdown围栏，再按花括号配平截取
func ExtractJSON(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return json.RawMessage(candidate), true
					}
					return nil, false
				}
			}
		}
	}
	return nil, false
}
