package config

type Config struct {
	TogetherAPIKey string
	TogetherModel  string
	AllowedOrigins []string
	Environment    string
	Port           string
}
