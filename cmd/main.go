package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	backend "github.com/KrrishVardhan/Backend-Project"
	"github.com/KrrishVardhan/Backend-Project/database"
	"github.com/KrrishVardhan/Backend-Project/handlers"
	"github.com/KrrishVardhan/Backend-Project/mail"
	"github.com/KrrishVardhan/Backend-Project/media"
	"github.com/KrrishVardhan/Backend-Project/middleware"
	"github.com/KrrishVardhan/Backend-Project/model"
	"github.com/KrrishVardhan/Backend-Project/repository"
	"github.com/KrrishVardhan/Backend-Project/service"
	"github.com/KrrishVardhan/Backend-Project/utils"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := backend.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	mediaStore, err := media.NewS3Store(context.Background(), media.Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		BaseURL:   cfg.S3.BaseURL,
	})
	if err != nil {
		logger.Error("media store init failed", "error", err)
		os.Exit(1)
	}

	tokens := utils.NewTokenService(
		cfg.AccessTokenSecret,
		cfg.RefreshTokenSecret,
		cfg.AccessTokenExpiry,
		cfg.RefreshTokenExpiry,
	)

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRedisTokenRepository(redisClient)

	var mailer service.Mailer
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
	}

	authService := service.NewAuthService(userRepo, tokenRepo, tokens, mediaStore, mailer, logger)
	authHandler := handlers.NewAuthHandler(authService, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	authMiddleware := middleware.NewAuthMiddleware(tokens, userRepo, tokenRepo)

	r := gin.Default()

	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.POST("/refresh", authHandler.RefreshToken)

	auth := r.Group("/auth")
	auth.Use(authMiddleware.RequireAuth())
	{
		auth.GET("/profile", authHandler.Profile)
		auth.POST("/logout", authHandler.Logout)
	}

	logger.Info("starting server", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
