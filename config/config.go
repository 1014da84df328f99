package config

import (
	"fmt"
	"os"
	"strconv"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SlackConfig struct {
	BotToken      string
	SigningSecret string
	Channel       string
}

type CaptchaConfig struct {
	TwoCaptchaKey     string
	DailyBudgetUSD    float64
	HourlyAttempts    int
	HumanTimeoutSecs  int
	TokenCacheSecs    int
	SolverPollSecs    int
	SolverMaxPolls    int
	FuncaptchaMaxPoll int
}

type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type GmailConfig struct {
	CredentialsPath string
	TokenPath       string
	Enabled         bool
}

type AutomationConfig struct {
	Headless    bool
	ProfilePath string
	WorkerSpec  string
	DigestSpec  string
	MaxJobRetry int
}

// OperatorConfig holds the single operator login. The API stays locked
// until a bcrypt password hash is configured.
type OperatorConfig struct {
	Email        string
	PasswordHash string
}

type AppConfig struct {
	Port        string
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Slack       SlackConfig
	Captcha     CaptchaConfig
	S3          S3Config
	OpenAI      OpenAIConfig
	Gmail       GmailConfig
	Automation  AutomationConfig
	Operator    OperatorConfig
	JWTSecret   string
}

func GetDatabaseConfig() DatabaseConfig {
	port, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	password := getEnv("DB_PASSWORD", "")

	if password == "" {
		fmt.Println("⚠️  Warning: DB_PASSWORD environment variable is not set.")
		fmt.Println("   Set it before starting: export DB_PASSWORD='your_password'")
	}

	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: password,
		DBName:   getEnv("DB_NAME", "applypilot"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func GetRedisConfig() RedisConfig {
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
	}
}

func GetCaptchaConfig() CaptchaConfig {
	budget, _ := strconv.ParseFloat(getEnv("CAPTCHA_DAILY_BUDGET_USD", "1.00"), 64)
	hourly, _ := strconv.Atoi(getEnv("CAPTCHA_HOURLY_ATTEMPTS", "20"))
	humanTimeout, _ := strconv.Atoi(getEnv("CAPTCHA_HUMAN_TIMEOUT_SECS", "300"))
	tokenCache, _ := strconv.Atoi(getEnv("CAPTCHA_TOKEN_CACHE_SECS", "110"))

	return CaptchaConfig{
		TwoCaptchaKey:     getEnv("TWOCAPTCHA_API_KEY", ""),
		DailyBudgetUSD:    budget,
		HourlyAttempts:    hourly,
		HumanTimeoutSecs:  humanTimeout,
		TokenCacheSecs:    tokenCache,
		SolverPollSecs:    5,
		SolverMaxPolls:    24,
		FuncaptchaMaxPoll: 36,
	}
}

func GetAppConfig() AppConfig {
	maxRetry, _ := strconv.Atoi(getEnv("JOB_MAX_RETRY", "1"))

	return AppConfig{
		Port:        getEnv("PORT", "8081"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Database:    GetDatabaseConfig(),
		Redis:       GetRedisConfig(),
		Slack: SlackConfig{
			BotToken:      getEnv("SLACK_BOT_TOKEN", ""),
			SigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
			Channel:       getEnv("SLACK_CHANNEL", "#job-applications"),
		},
		Captcha: GetCaptchaConfig(),
		S3: S3Config{
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("AWS_REGION", "us-east-1"),
			AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Gmail: GmailConfig{
			CredentialsPath: getEnv("GMAIL_CREDENTIALS_PATH", ""),
			TokenPath:       getEnv("GMAIL_TOKEN_PATH", ""),
			Enabled:         getEnv("GMAIL_CONFIRMATION_ENABLED", "false") == "true",
		},
		Automation: AutomationConfig{
			Headless:    getEnv("BROWSER_HEADLESS", "true") == "true",
			ProfilePath: getEnv("APPLICANT_PROFILE_PATH", "profile.json"),
			WorkerSpec:  getEnv("WORKER_CRON_SPEC", "@every 2m"),
			DigestSpec:  getEnv("DIGEST_CRON_SPEC", "0 9 * * *"),
			MaxJobRetry: maxRetry,
		},
		Operator: OperatorConfig{
			Email:        getEnv("OPERATOR_EMAIL", "operator@localhost"),
			PasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		},
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
