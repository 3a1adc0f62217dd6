// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл .yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Ops       OpsConfig       `yaml:"ops"`
	Auth      AuthConfig      `yaml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Generator GeneratorConfig `yaml:"generator"`
	Limits    LimitsConfig    `yaml:"limits"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймауты внешних границ сервиса.
type TimeoutConfig struct {
	// Request — общий дедлайн HTTP-запроса.
	Request time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"90s"`
	// Dispatch — ожидание ответа на опубликованную задачу генерации.
	Dispatch time.Duration `yaml:"dispatch" env:"DISPATCH_TIMEOUT" env-default:"60s"`
	// Provider — обмен кода на токен у внешнего провайдера.
	Provider time.Duration `yaml:"provider" env:"PROVIDER_TIMEOUT" env-default:"10s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера API.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"51155"`
}

// OpsConfig — сетевые настройки служебного сервера (/livez, /healthz, /metrics).
type OpsConfig struct {
	Host string `yaml:"host" env:"OPS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"OPS_PORT" env-default:"51156"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (o OpsConfig) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	Issuer            string        `yaml:"issuer"   env:"ISSUER" env-default:"codeai"`
	Audience          []string      `yaml:"audience" env:"AUDIENCE" env-default:"codeai-client"`
	RefreshCookieName string        `yaml:"refresh_cookie_name" env:"REFRESH_COOKIE_NAME" env-default:"codeai_refresh"`
}

// OAuthConfig — параметры внешнего провайдера аутентификации.
type OAuthConfig struct {
	Provider     string `yaml:"provider" env:"OAUTH_PROVIDER" env-default:"github"`
	ClientID     string `yaml:"client_id" env:"OAUTH_CLIENT_ID" env-required:"true"`
	ClientSecret string `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET" env-required:"true"`
	// CallbackURL — абсолютный адрес /auth/callback/{provider} этого сервера,
	// зарегистрированный у провайдера.
	CallbackURL string `yaml:"callback_url" env:"OAUTH_CALLBACK_URL" env-required:"true"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — настройки подключения к Redis.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-required:"true"`
}

// GeneratorConfig — параметры backend-а генерации (Ollama).
type GeneratorConfig struct {
	BaseURL string `yaml:"base_url" env:"GENERATOR_BASE_URL" env-default:"http://localhost:11434"`
	// Model — модель для autocomplete (FIM).
	Model string `yaml:"model" env:"GENERATOR_MODEL" env-default:"codellama:7b-code"`
	// ModelInstruct — модель для чата и документации.
	ModelInstruct string        `yaml:"model_instruct" env:"GENERATOR_MODEL_INSTRUCT" env-default:"codellama:7b-instruct"`
	Timeout       time.Duration `yaml:"timeout" env:"GENERATOR_TIMEOUT" env-default:"120s"`
	// Workers — число конкурентных консьюмеров очереди генерации.
	Workers int `yaml:"workers" env:"GENERATOR_WORKERS" env-default:"4"`
	// CacheTTL — время жизни кэша результатов.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"GENERATOR_CACHE_TTL" env-default:"6h"`
}

// LimitsConfig — параметры token-bucket лимитера per-identity.
type LimitsConfig struct {
	// Burst — ёмкость ведра (мгновенно доступные запросы).
	Burst int `yaml:"burst" env:"RATE_BURST" env-default:"15"`
	// PerSecond — скорость пополнения, токенов в секунду.
	PerSecond float64 `yaml:"per_second" env:"RATE_PER_SECOND" env-default:"5"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
