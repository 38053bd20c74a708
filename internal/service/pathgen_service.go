package service

import (
	"bytes"
	"context"
	"edupath_backend/internal/config"
	"edupath_backend/internal/model"
	"edupath_backend/internal/util"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StudentProfile 喂给外部生成服务的学生画像
type StudentProfile struct {
	StudentID        uint     `json:"studentId"`
	CompletedContent []uint   `json:"completedContent"`
	KnowledgeGaps    []string `json:"knowledgeGaps"`
	TargetSkills     []string `json:"targetSkills"`
	TimeLimit        int      `json:"timeLimit"` // 分钟，0 表示不限
}

type ProposedPathItem struct {
	ContentID     uint             `json:"contentId"`
	Title         string           `json:"title"`
	Topic         string           `json:"topic"`
	Prerequisites []uint           `json:"prerequisites"`
	EstimatedTime int              `json:"estimatedTime"`
	Difficulty    model.Difficulty `json:"difficulty"`
	Notes         string           `json:"notes"`
}

// ProposedPath 外部服务给出的候选路线。仅供参考：
// 顺序可能不满足拓扑约束，落库前必须校验修复。
type ProposedPath struct {
	Items     []ProposedPathItem `json:"items"`
	Rationale string             `json:"rationale"`
}

type RemedialSuggestion struct {
	Topic         string           `json:"topic"`
	LessonID      uint             `json:"lessonId"`
	Title         string           `json:"title"`
	Notes         string           `json:"notes"`
	EstimatedTime int              `json:"estimatedTime"`
	Difficulty    model.Difficulty `json:"difficulty"`
}

// PathGenerator 外部路径生成协作方的注入点。
// 生产实现走 HTTP，测试注入确定性的假实现。
type PathGenerator interface {
	ProposePath(ctx context.Context, profile StudentProfile, available []model.Lesson) (*ProposedPath, error)
	SuggestRemediation(ctx context.Context, gaps []string, struggling bool) ([]RemedialSuggestion, error)
}

// PathGenService 对接 chat-completions 风格的生成服务。
// 输出一律按不可信数据处理：JSON 解析失败、超时、非 200 都返回错误，
// 由调用方走本地兜底规则。
type PathGenService struct {
	config config.PathGenConfig
	client *http.Client
}

func NewPathGenService(cfg config.PathGenConfig) *PathGenService {
	return &PathGenService{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type genChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type genCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []genChatMessage `json:"messages"`
}

type genCompletionResponse struct {
	Choices []struct {
		Message genChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *PathGenService) Timeout() time.Duration {
	return time.Duration(s.config.TimeoutSeconds) * time.Second
}

func (s *PathGenService) ProposePath(ctx context.Context, profile StudentProfile, available []model.Lesson) (*ProposedPath, error) {
	type lessonBrief struct {
		ID            uint     `json:"id"`
		Title         string   `json:"title"`
		Topic         string   `json:"topic"`
		Prerequisites []uint   `json:"prerequisites"`
		EstimatedTime int      `json:"estimatedTime"`
		Difficulty    string   `json:"difficulty"`
	}
	briefs := make([]lessonBrief, len(available))
	for i, l := range available {
		briefs[i] = lessonBrief{
			ID:            l.ID,
			Title:         l.Title,
			Topic:         l.Topic,
			Prerequisites: l.Prerequisites,
			EstimatedTime: l.EstimatedTime,
			Difficulty:    string(l.Difficulty),
		}
	}

	payload := map[string]interface{}{
		"profile": profile,
		"lessons": briefs,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	system := "你是学习路径规划助手。根据学生画像和可选课时，输出一条个性化学习路线。" +
		"只输出 JSON，结构为 {\"items\":[{\"contentId\":0,\"title\":\"\",\"topic\":\"\",\"prerequisites\":[],\"estimatedTime\":0,\"difficulty\":\"beginner\",\"notes\":\"\"}],\"rationale\":\"\"}，" +
		"不要输出任何其他文字。"

	content, err := s.complete(ctx, system, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	var path ProposedPath
	if err := json.Unmarshal([]byte(extractJSON(content)), &path); err != nil {
		return nil, fmt.Errorf("path generator returned malformed JSON: %w", err)
	}
	return &path, nil
}

func (s *PathGenService) SuggestRemediation(ctx context.Context, gaps []string, struggling bool) ([]RemedialSuggestion, error) {
	payload := map[string]interface{}{
		"topicGaps":  gaps,
		"struggling": struggling,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	system := "你是补救学习规划助手。针对给出的知识薄弱点，给出补救学习项建议。" +
		"只输出 JSON 数组，元素结构为 {\"topic\":\"\",\"lessonId\":0,\"title\":\"\",\"notes\":\"\",\"estimatedTime\":30,\"difficulty\":\"beginner\"}，" +
		"不要输出任何其他文字。"

	content, err := s.complete(ctx, system, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	var suggestions []RemedialSuggestion
	if err := json.Unmarshal([]byte(extractJSON(content)), &suggestions); err != nil {
		return nil, fmt.Errorf("remediation generator returned malformed JSON: %w", err)
	}
	return suggestions, nil
}

func (s *PathGenService) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := genCompletionRequest{
		Model: s.config.Model,
		Messages: []genChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
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
		return "", fmt.Errorf("%w: %v", util.ErrGenerationUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", util.ErrGenerationUnavailable, resp.StatusCode, string(body))
	}

	var result genCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("path generation API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("path generation API returned no choices")
	}

	return result.Choices[0].Message.Content, nil
}

// extractJSON 剥掉模型偶尔包裹的 markdown 代码块
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}
