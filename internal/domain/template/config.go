package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY CONFIG (TAGGED UNION)
// Каждый тип активности несёт собственную типизированную конфигурацию.
// На проводе конфигурация представлена конвертом {"type": ..., "config": ...}
// с исчерпывающим разбором по дискриминанту.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityType - дискриминант типа активности.
type ActivityType string

const (
	TypeQuick     ActivityType = "quick"
	TypeText      ActivityType = "text"
	TypeQuiz      ActivityType = "quiz"
	TypeVideo     ActivityType = "video"
	TypeChecklist ActivityType = "checklist"
	TypeFile      ActivityType = "file"
	TypeApp       ActivityType = "app"
)

// IsValid проверяет, что тип активности известен.
func (t ActivityType) IsValid() bool {
	switch t {
	case TypeQuick, TypeText, TypeQuiz, TypeVideo, TypeChecklist, TypeFile, TypeApp:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление типа.
func (t ActivityType) String() string {
	return string(t)
}

// ErrUnknownType - неизвестный тип активности при разборе конфигурации.
var ErrUnknownType = errors.New("unknown activity type")

// Config - общий интерфейс типоспецифичных конфигураций.
type Config interface {
	// Type возвращает дискриминант, которому соответствует конфигурация.
	Type() ActivityType

	// Validate проверяет внутреннюю согласованность конфигурации.
	Validate() error
}

// ──────────────────────────────────────────────────────────────────────────────
// Quick: отметка выполнения одним действием.
// ──────────────────────────────────────────────────────────────────────────────

// QuickConfig - конфигурация активности-отметки.
type QuickConfig struct {
	// ConfirmationLabel - подпись кнопки подтверждения (опционально).
	ConfirmationLabel string `json:"confirmation_label,omitempty"`
}

func (c QuickConfig) Type() ActivityType { return TypeQuick }

func (c QuickConfig) Validate() error {
	if len(c.ConfirmationLabel) > 100 {
		return errors.New("quick: confirmation label too long")
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Text: свободный текстовый ответ.
// ──────────────────────────────────────────────────────────────────────────────

// TextConfig - конфигурация текстовой активности.
type TextConfig struct {
	// Prompt - задание для студента.
	Prompt string `json:"prompt"`

	// MinLength - минимальная длина ответа (0 = без ограничения).
	MinLength int `json:"min_length,omitempty"`

	// MaxLength - максимальная длина ответа (0 = без ограничения).
	MaxLength int `json:"max_length,omitempty"`
}

func (c TextConfig) Type() ActivityType { return TypeText }

func (c TextConfig) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return errors.New("text: prompt is required")
	}
	if c.MinLength < 0 || c.MaxLength < 0 {
		return errors.New("text: length bounds cannot be negative")
	}
	if c.MaxLength > 0 && c.MinLength > c.MaxLength {
		return errors.New("text: min length exceeds max length")
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Quiz: набор вопросов с вариантами ответа.
// ──────────────────────────────────────────────────────────────────────────────

// QuizQuestion - один вопрос викторины.
type QuizQuestion struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// QuizConfig - конфигурация викторины.
type QuizConfig struct {
	Questions []QuizQuestion `json:"questions"`

	// PassingScore - минимальная доля правильных ответов (0-100).
	PassingScore int `json:"passing_score"`
}

func (c QuizConfig) Type() ActivityType { return TypeQuiz }

func (c QuizConfig) Validate() error {
	if len(c.Questions) == 0 {
		return errors.New("quiz: at least one question is required")
	}
	for i, q := range c.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("quiz: question %d has no text", i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("quiz: question %d needs at least two options", i)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("quiz: question %d correct index out of range", i)
		}
	}
	if c.PassingScore < 0 || c.PassingScore > 100 {
		return errors.New("quiz: passing score must be 0-100")
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Video: просмотр видеоматериала.
// ──────────────────────────────────────────────────────────────────────────────

// VideoConfig - конфигурация видеоактивности.
type VideoConfig struct {
	URL string `json:"url"`

	// DurationSeconds - длительность ролика.
	DurationSeconds int `json:"duration_seconds,omitempty"`

	// RequireFullWatch - требовать ли полного просмотра.
	RequireFullWatch bool `json:"require_full_watch,omitempty"`
}

func (c VideoConfig) Type() ActivityType { return TypeVideo }

func (c VideoConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("video: url is required")
	}
	if c.DurationSeconds < 0 {
		return errors.New("video: duration cannot be negative")
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Checklist: список пунктов для отметки.
// ──────────────────────────────────────────────────────────────────────────────

// ChecklistConfig - конфигурация чек-листа.
type ChecklistConfig struct {
	Items []string `json:"items"`

	// RequireAll - требуются ли все пункты для завершения.
	RequireAll bool `json:"require_all"`
}

func (c ChecklistConfig) Type() ActivityType { return TypeChecklist }

func (c ChecklistConfig) Validate() error {
	if len(c.Items) == 0 {
		return errors.New("checklist: at least one item is required")
	}
	for i, item := range c.Items {
		if strings.TrimSpace(item) == "" {
			return fmt.Errorf("checklist: item %d is empty", i)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// File: загрузка файла-результата.
// ──────────────────────────────────────────────────────────────────────────────

// FileConfig - конфигурация файловой активности.
type FileConfig struct {
	// AllowedExtensions - допустимые расширения без точки ("pdf", "jpg").
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`

	// MaxSizeMB - максимальный размер файла в мегабайтах.
	MaxSizeMB int `json:"max_size_mb,omitempty"`
}

func (c FileConfig) Type() ActivityType { return TypeFile }

func (c FileConfig) Validate() error {
	if c.MaxSizeMB < 0 {
		return errors.New("file: max size cannot be negative")
	}
	for i, ext := range c.AllowedExtensions {
		if strings.TrimSpace(ext) == "" || strings.HasPrefix(ext, ".") {
			return fmt.Errorf("file: extension %d must be non-empty without leading dot", i)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// App: выполнение во внешнем приложении.
// ──────────────────────────────────────────────────────────────────────────────

// AppConfig - конфигурация активности внешнего приложения.
type AppConfig struct {
	AppID string `json:"app_id"`

	// DeepLink - ссылка запуска внутри приложения.
	DeepLink string `json:"deep_link,omitempty"`

	// Params - произвольные параметры запуска.
	Params map[string]string `json:"params,omitempty"`
}

func (c AppConfig) Type() ActivityType { return TypeApp }

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return errors.New("app: app id is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE (SERIALIZATION)
// ══════════════════════════════════════════════════════════════════════════════

// configEnvelope - проводное представление конфигурации.
type configEnvelope struct {
	Type   ActivityType    `json:"type"`
	Config json.RawMessage `json:"config"`
}

// MarshalConfig сериализует конфигурацию в конверт {"type", "config"}.
func MarshalConfig(c Config) ([]byte, error) {
	if c == nil {
		return nil, errors.New("config is nil")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(configEnvelope{Type: c.Type(), Config: raw})
}

// UnmarshalConfig разбирает конверт в типизированную конфигурацию.
// Неизвестный тип - ошибка ErrUnknownType.
func UnmarshalConfig(data []byte) (Config, error) {
	var env configEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("config envelope: %w", err)
	}

	var cfg Config
	switch env.Type {
	case TypeQuick:
		cfg = &QuickConfig{}
	case TypeText:
		cfg = &TextConfig{}
	case TypeQuiz:
		cfg = &QuizConfig{}
	case TypeVideo:
		cfg = &VideoConfig{}
	case TypeChecklist:
		cfg = &ChecklistConfig{}
	case TypeFile:
		cfg = &FileConfig{}
	case TypeApp:
		cfg = &AppConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, cfg); err != nil {
			return nil, fmt.Errorf("config payload for %q: %w", env.Type, err)
		}
	}

	return deref(cfg), nil
}

// deref возвращает value-представление конфигурации.
func deref(c Config) Config {
	switch v := c.(type) {
	case *QuickConfig:
		return *v
	case *TextConfig:
		return *v
	case *QuizConfig:
		return *v
	case *VideoConfig:
		return *v
	case *ChecklistConfig:
		return *v
	case *FileConfig:
		return *v
	case *AppConfig:
		return *v
	default:
		return c
	}
}
