package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Listing kinds with their own image bounds
const (
	KindRental = "rental"
	KindEvent  = "event"
	KindPost   = "post"
)

type Config struct {
	// Server
	Port     string
	Env      string
	APIUrl   string
	LogLevel string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Media S3
	MediaS3Endpoint        string
	MediaS3Region          string
	MediaS3AccessKeyID     string
	MediaS3SecretAccessKey string
	MediaS3UsePathStyle    bool
	MediaImagesBucket      string
	PresignedURLTTLMinutes int

	// Local storage (staged picks)
	LocalAssetsPath      string
	StagingSweepInterval time.Duration

	// Uploads
	UploadMaxImageSize    int64
	UploadRateLimitPerDay int

	// Image collections
	MaxImagesRental     int
	MaxImagesEvent      int
	MaxImagesPost       int
	ImageTitlePrefix    string
	ImageAltPlaceholder string
	DraftTTL            time.Duration

	// Submission target
	SubmissionURL     string
	SubmissionTimeout time.Duration
	SubmissionToken   string

	// Security
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		APIUrl:   getEnv("API_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "listings"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "listings_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Media S3
		MediaS3Endpoint:        getEnv("MEDIA_S3_ENDPOINT", ""),
		MediaS3Region:          getEnv("MEDIA_S3_REGION", "us-east-1"),
		MediaS3AccessKeyID:     getEnv("MEDIA_S3_ACCESS_KEY_ID", ""),
		MediaS3SecretAccessKey: getEnv("MEDIA_S3_SECRET_ACCESS_KEY", ""),
		MediaS3UsePathStyle:    getEnv("MEDIA_S3_USE_PATH_STYLE", "true") == "true",
		MediaImagesBucket:      getEnv("MEDIA_IMAGES_BUCKET", "listing-images"),
		PresignedURLTTLMinutes: getEnvAsInt("PRESIGNED_URL_TTL_MINUTES", 60),

		// Local storage
		LocalAssetsPath:      getEnv("LOCAL_ASSETS_PATH", "/data/assets"),
		StagingSweepInterval: getEnvAsDuration("STAGING_SWEEP_INTERVAL", "15m"),

		// Uploads
		UploadMaxImageSize:    int64(getEnvAsInt("UPLOAD_MAX_IMAGE_SIZE", 10*1024*1024)),
		UploadRateLimitPerDay: getEnvAsInt("UPLOAD_RATE_LIMIT_PER_DAY", 100),

		// Image collections
		MaxImagesRental:     getEnvAsInt("MAX_IMAGES_RENTAL", 10),
		MaxImagesEvent:      getEnvAsInt("MAX_IMAGES_EVENT", 5),
		MaxImagesPost:       getEnvAsInt("MAX_IMAGES_POST", 5),
		ImageTitlePrefix:    getEnv("IMAGE_TITLE_PREFIX", "Image"),
		ImageAltPlaceholder: getEnv("IMAGE_ALT_PLACEHOLDER", "Listing image"),
		DraftTTL:            getEnvAsDuration("DRAFT_TTL", "2h"),

		// Submission target
		SubmissionURL:     getEnv("SUBMISSION_URL", "http://localhost:8080"),
		SubmissionTimeout: getEnvAsDuration("SUBMISSION_TIMEOUT", "2m"),
		SubmissionToken:   getEnv("SUBMISSION_TOKEN", ""),

		// Security
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:19006"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

// MaxImagesFor returns the image bound of a listing kind. Unknown kinds get
// the smallest bound.
func (c *Config) MaxImagesFor(kind string) int {
	switch kind {
	case KindRental:
		return c.MaxImagesRental
	case KindEvent:
		return c.MaxImagesEvent
	case KindPost:
		return c.MaxImagesPost
	}
	return min(c.MaxImagesRental, c.MaxImagesEvent, c.MaxImagesPost)
}

// ValidKind reports whether kind names a listing kind.
func ValidKind(kind string) bool {
	return kind == KindRental || kind == KindEvent || kind == KindPost
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
