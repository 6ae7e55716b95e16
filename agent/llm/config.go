package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	openrouterx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Retry budget of the completion adapter. MaxRetries counts retries after the first attempt.
	MaxRetries    int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" split_words:"true" default:"500ms"`

	PrimaryModel         string  `envconfig:"PRIMARY_MODEL" split_words:"true"`
	FlightModel          string  `envconfig:"FLIGHT_MODEL" split_words:"true"`
	HotelModel           string  `envconfig:"HOTEL_MODEL" split_words:"true"`
	CarRentalModel       string  `envconfig:"CAR_RENTAL_MODEL" split_words:"true"`
	ExcursionModel       string  `envconfig:"EXCURSION_MODEL" split_words:"true"`
	PrimaryTemperature   float32 `envconfig:"PRIMARY_TEMPERATURE" split_words:"true" default:"-1"`
	FlightTemperature    float32 `envconfig:"FLIGHT_TEMPERATURE" split_words:"true" default:"-1"`
	HotelTemperature     float32 `envconfig:"HOTEL_TEMPERATURE" split_words:"true" default:"-1"`
	CarRentalTemperature float32 `envconfig:"CAR_RENTAL_TEMPERATURE" split_words:"true" default:"-1"`
	ExcursionTemperature float32 `envconfig:"EXCURSION_TEMPERATURE" split_words:"true" default:"-1"`

	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL" split_words:"true"`
	EmbeddingAPIKey  string `envconfig:"EMBEDDING_API_KEY" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model settings of one assistant, falling back to the defaults.
func (c Config) OpenRouterFor(id statex.AssistantID) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override, overrideTemp := c.overrides(id)
	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}
	if overrideTemp >= 0 {
		temp = overrideTemp
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Embeddings returns the client settings for the embeddings endpoint. It defaults to
// the chat endpoint and key.
func (c Config) Embeddings() openrouterx.Config {
	cfg := c.OpenRouterFor(statex.PrimaryAssistant)
	if v := strings.TrimSpace(c.EmbeddingBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(c.EmbeddingAPIKey); v != "" {
		cfg.APIKey = v
	}
	return cfg
}

func (c Config) overrides(id statex.AssistantID) (string, float32) {
	switch id {
	case statex.PrimaryAssistant:
		return c.PrimaryModel, c.PrimaryTemperature
	case "flight":
		return c.FlightModel, c.FlightTemperature
	case "hotel":
		return c.HotelModel, c.HotelTemperature
	case "car_rental":
		return c.CarRentalModel, c.CarRentalTemperature
	case "excursion":
		return c.ExcursionModel, c.ExcursionTemperature
	default:
		return "", -1
	}
}
