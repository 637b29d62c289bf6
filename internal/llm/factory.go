package llm

import (
	"context"
	"fmt"
	"strings"

	"webhook-receiver/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenaiTemperature  float32
	OpenaiMaxTokens    int
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenaiTemperature:  cfg.OpenAITemperature,
		OpenaiMaxTokens:    cfg.OpenAIMaxTokens,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
	}
}

// missingCredentials names the first absent credential for provider, or "" when all are set.
func (f *Factory) missingCredentials(provider string) string {
	switch provider {
	case ProviderOpenAI:
		if f.OpenaiAPIKey == "" {
			return "missing OPENAI_API_KEY"
		}
	case ProviderYandex:
		if f.YandexOAuthToken == "" {
			return "missing YANDEX_OAUTH_TOKEN"
		}
		if f.YandexFolderID == "" {
			return "missing YANDEX_FOLDER_ID"
		}
	}
	return ""
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:      f.OpenaiAPIKey,
			BaseURL:     f.OpenaiBaseURL,
			Model:       model,
			Referrer:    f.OpenRouterReferrer,
			Title:       f.OpenRouterTitle,
			Temperature: f.OpenaiTemperature,
			MaxTokens:   f.OpenaiMaxTokens,
		}), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// Service is the model capability used by the reply pipeline: a client plus its readiness.
type Service struct {
	client Client
	status Status
}

// NewService builds a Service. A missing credential or a failed client construction yields an
// unavailable service rather than an error, so the process still ingests events without a model.
func NewService(f *Factory, provider, model string) *Service {
	provider = strings.ToLower(provider)
	if provider == ProviderYandex {
		model = "yandexgpt-lite"
	}
	st := Status{Provider: provider, Model: model}
	if reason := f.missingCredentials(provider); reason != "" {
		st.Reason = reason
		return &Service{status: st}
	}
	client, err := f.CreateClient(provider, model)
	if err != nil {
		st.Reason = err.Error()
		return &Service{status: st}
	}
	return NewServiceWithClient(client, provider, model)
}

// NewServiceWithClient wraps an already constructed client. A nil client is reported as unavailable.
func NewServiceWithClient(client Client, provider, model string) *Service {
	st := Status{Provider: provider, Model: model, Available: client != nil}
	if client == nil {
		st.Reason = ErrNotConfigured.Error()
	}
	return &Service{client: client, status: st}
}

func (s *Service) Status() Status { return s.status }

func (s *Service) Generate(ctx context.Context, messages []Message) (Response, error) {
	if s.client == nil {
		return Response{}, ErrNotConfigured
	}
	return s.client.Generate(ctx, messages)
}
