package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Queue
	RedisURL          string
	QueueName         string
	WorkerConcurrency int
	JobAttempts       int
	JobBackoff        time.Duration

	// Callbacks
	CompletedEndpoint    string
	FailedEndpoint       string
	CompletedEndpointApp string
	FailedEndpointApp    string
	AppRepositoryName    string
	CallbackTimeout      time.Duration
	LogAPIEndpoint       string

	// Provisioning
	StackEnv          string
	InstanceTagName   string
	KeyPairName       string
	SSHPrivateKeyPath string
	SSHPublicKeyPath  string
	SSHUser           string
	PlaybookDir       string
	AnsibleBinary     string
	TemplateCatalog   string
	EstimatePricing   bool

	// Lifecycle timings
	PollInterval      time.Duration
	PollTimeout       time.Duration
	RestartSettle     time.Duration
	ReadinessAttempts int
	ReadinessInterval time.Duration
	ReadySettle       time.Duration
	ProbeTimeout      time.Duration

	// Database
	DatabaseURL string

	// Server
	ServerPort string
	AdminToken string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		RedisURL:          getEnv("REDIS_URL", ""),
		QueueName:         getEnv("QUEUE_NAME", "importQueue"),
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 1),
		JobAttempts:       getIntEnv("JOB_ATTEMPTS", 2),
		JobBackoff:        getDurationEnv("JOB_BACKOFF", 5*time.Second),

		CompletedEndpoint:    getEnv("COMPLETED_ENDPOINT", ""),
		FailedEndpoint:       getEnv("FAILED_ENDPOINT", ""),
		CompletedEndpointApp: getEnv("COMPLETED_ENDPOINT_APP", ""),
		FailedEndpointApp:    getEnv("FAILED_ENDPOINT_APP", ""),
		AppRepositoryName:    getEnv("APP_REPOSITORY_NAME", "slashml/app-deployment"),
		CallbackTimeout:      getDurationEnv("CALLBACK_TIMEOUT", 30*time.Second),
		LogAPIEndpoint:       getEnv("LOG_API_ENDPOINT", ""),

		StackEnv:          getEnv("STACK_ENV", "dev"),
		InstanceTagName:   getEnv("INSTANCE_TAG_NAME", "slashml-stuff"),
		KeyPairName:       getEnv("KEY_PAIR_NAME", "aws-randomcreated-kp"),
		SSHPrivateKeyPath: getEnv("SSH_PRIVATE_KEY_PATH", "aws-faizank-kp.pem"),
		SSHPublicKeyPath:  getEnv("SSH_PUBLIC_KEY_PATH", ""),
		SSHUser:           getEnv("SSH_USER", "ubuntu"),
		PlaybookDir:       getEnv("PLAYBOOK_DIR", "playbooks"),
		AnsibleBinary:     getEnv("ANSIBLE_BINARY", "ansible-playbook"),
		TemplateCatalog:   getEnv("TEMPLATE_CATALOG", ""),
		EstimatePricing:   getBoolEnv("ESTIMATE_PRICING", true),

		PollInterval:      getDurationEnv("POLL_INTERVAL", 5*time.Second),
		PollTimeout:       getDurationEnv("POLL_TIMEOUT", 10*time.Minute),
		RestartSettle:     getDurationEnv("RESTART_SETTLE", 5*time.Second),
		ReadinessAttempts: getIntEnv("READINESS_ATTEMPTS", 20),
		ReadinessInterval: getDurationEnv("READINESS_INTERVAL", 15*time.Second),
		ReadySettle:       getDurationEnv("READY_SETTLE", 30*time.Second),
		ProbeTimeout:      getDurationEnv("PROBE_TIMEOUT", 10*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		AdminToken:  getEnv("ADMIN_API_TOKEN", ""),
	}
}

// Validate checks the settings the worker cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.QueueName == "" {
		errs = append(errs, errors.New("QUEUE_NAME must not be empty"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.JobAttempts < 1 {
		errs = append(errs, errors.New("JOB_ATTEMPTS must be at least 1"))
	}
	if c.ReadinessAttempts < 1 {
		errs = append(errs, errors.New("READINESS_ATTEMPTS must be at least 1"))
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL and POLL_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
