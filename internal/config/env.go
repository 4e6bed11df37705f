package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const defaultModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"

// loads configuration from environment variables
func LoadEnvironmentVariables() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have .env file
	}

	togetherKey := os.Getenv("TOGETHER_API_KEY")
	togetherModel := os.Getenv("TOGETHER_MODEL")
	environment := os.Getenv("ENVIRONMENT")
	port := os.Getenv("PORT")

	if togetherKey == "" {
		return nil, fmt.Errorf("TOGETHER_API_KEY environment variable is required")
	}

	if togetherModel == "" {
		togetherModel = defaultModel
	}

	if environment == "" {
		environment = "development"
	}

	if port == "" {
		port = "8080"
	}

	return &Config{
		TogetherAPIKey: togetherKey,
		TogetherModel:  togetherModel,
		AllowedOrigins: parseAllowedOrigins(),
		Environment:    environment,
		Port:           port,
	}, nil
}

// parses the comma-separated ALLOWED_ORIGINS variable
func parseAllowedOrigins() []string {
	envOrigins := os.Getenv("ALLOWED_ORIGINS")
	if envOrigins == "" {
		return []string{}
	}

	origins := strings.Split(envOrigins, ",")

	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return origins
}
