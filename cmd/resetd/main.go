package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/carebridge/resetd"
	"github.com/carebridge/resetd/directory"
	"github.com/carebridge/resetd/httpapi"
	"github.com/carebridge/resetd/notify"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDatabase()
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	if err := directory.AutoMigrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.Error(err))
	}

	notifier := buildNotifier(logger)

	engine, err := resetd.New().
		WithRedis(redisClient).
		WithDirectory(directory.New(db)).
		WithNotifier(notifier).
		WithAuditSink(directory.NewAuditSink(db)).
		Build()
	if err != nil {
		logger.Fatal("engine build failed", zap.Error(err))
	}
	defer engine.Close()

	router := gin.New()
	router.Use(gin.Recovery(), httpapi.RequestLogger(logger))
	httpapi.NewResetHandler(logger, engine).RegisterRoutes(router)

	addr := ":" + envOr("PORT", "8080")
	logger.Info("resetd listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func openDatabase() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=" + envOr("DB_HOST", "localhost") +
			" user=" + envOr("DB_USER", "postgres") +
			" password=" + os.Getenv("DB_PASSWORD") +
			" dbname=" + envOr("DB_NAME", "carebridge") +
			" port=" + envOr("DB_PORT", "5432") +
			" sslmode=" + envOr("DB_SSLMODE", "disable")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func buildNotifier(logger *zap.Logger) *notify.Dispatcher {
	sms := notify.NewSMSSender(notify.SMSConfig{
		BaseURL:  os.Getenv("SMS_GATEWAY_URL"),
		APIKey:   os.Getenv("SMS_API_KEY"),
		SenderID: os.Getenv("SMS_SENDER_ID"),
	}, logger)

	var sesClient *sesv2.Client
	if os.Getenv("SES_FROM_EMAIL") != "" {
		awsCfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(envOr("AWS_REGION", "ap-southeast-1")),
		)
		if err != nil {
			logger.Warn("aws config load failed, email delivery disabled", zap.Error(err))
		} else {
			sesClient = sesv2.NewFromConfig(awsCfg)
		}
	}
	email := notify.NewEmailSender(notify.EmailConfig{
		FromEmail:  os.Getenv("SES_FROM_EMAIL"),
		FromName:   envOr("SES_FROM_NAME", "CareBridge"),
		AppBaseURL: envOr("APP_BASE_URL", "https://carebridge.example"),
	}, sesClient, logger)

	return notify.NewDispatcher(sms, email, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
