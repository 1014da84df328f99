package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"applypilot/config"
	"applypilot/controllers"
	"applypilot/database"
	"applypilot/middleware"
	"applypilot/models"
	"applypilot/parsers"
	"applypilot/services"
	"applypilot/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using the process environment")
	}

	cfg := config.GetAppConfig()
	logger := utils.GlobalLogger.Named("main")

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	profile, err := config.LoadProfile(cfg.Automation.ProfilePath)
	if err != nil {
		log.Fatalf("could not load applicant profile: %v", err)
	}

	jobModel := models.NewJobModel(db)
	attemptModel := models.NewApplicationAttemptModel(db)
	captchaEvents := models.NewCaptchaEventModel(db)

	queue := services.NewJobQueue(jobModel, attemptModel, cfg.Automation.MaxJobRetry)

	var s3svc *services.S3Service
	if svc, err := services.NewS3Service(cfg.S3); err != nil {
		logger.Warn("s3 not configured, attempts will carry no screenshots", map[string]interface{}{"error": err.Error()})
	} else {
		s3svc = svc
	}
	shots := services.NewScreenshotService(s3svc)

	messenger := services.NewSlackMessenger(cfg.Slack)
	assistant := services.NewHumanAssistant(time.Duration(cfg.Captcha.HumanTimeoutSecs) * time.Second)

	var solver services.CaptchaSolver
	if cfg.Captcha.TwoCaptchaKey != "" {
		solver = services.NewTwoCaptchaSolver(cfg.Captcha)
	} else {
		logger.Warn("no captcha solver key, every challenge will escalate to the operator")
	}

	guard := services.NewCaptchaGuard(rdb, cfg.Captcha)
	resolver := services.NewCaptchaResolver(solver, guard, assistant, messenger, shots, captchaEvents)

	emailVerifier, err := services.NewEmailVerifier(context.Background(), cfg.Gmail)
	if err != nil {
		logger.Warn("gmail verification disabled", map[string]interface{}{"error": err.Error()})
		emailVerifier = nil
	}

	sessions, err := services.NewSessionFactory(cfg.Automation)
	if err != nil {
		log.Fatalf("could not start browser: %v", err)
	}
	defer sessions.Close()

	engine := services.NewApplicationEngine(
		sessions,
		services.NewFieldMapper(),
		services.NewSubmissionVerifier(),
		resolver,
		emailVerifier,
		shots,
	)

	resumeText := ""
	if profile.ResumePath != "" {
		text, err := parsers.NewResumeExtractor().ExtractText(profile.ResumePath)
		if err != nil {
			logger.Warn("could not read resume text, tailoring will use the stock summary", map[string]interface{}{"error": err.Error()})
		} else {
			resumeText = text
		}
	}

	worker := services.NewWorker(services.WorkerDeps{
		Queue:      queue,
		Engine:     engine,
		Tailor:     services.NewTailoringService(cfg.OpenAI),
		Docs:       services.NewDocumentGenerator(),
		Messenger:  messenger,
		Spend:      captchaEvents,
		Profile:    profile,
		ResumeText: resumeText,
	}, cfg.Automation)
	if err := worker.Start(); err != nil {
		log.Fatalf("could not start worker: %v", err)
	}
	defer worker.Stop()

	jwtService := services.NewJWTService(cfg.JWTSecret)
	authController := controllers.NewAuthController(cfg.Operator, jwtService)
	queueController := controllers.NewQueueController(queue, attemptModel, messenger)
	slackController := controllers.NewSlackController(cfg.Slack.SigningSecret, assistant, queue, worker)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsConfig))
	r.Use(middleware.MaxRequestSize(1 << 20))

	limiters := middleware.CreateRateLimiters()
	statsCache := middleware.NewResponseCache(15 * time.Second)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Slack posts form-encoded bodies and signs them itself, so the
	// webhook lives outside the JSON and bearer-auth chains.
	r.POST("/api/slack/interactions", limiters["slack"].Limit(), slackController.HandleInteraction)

	auth := r.Group("/api/auth", limiters["auth"].Limit(), middleware.ValidateJSON())
	auth.POST("/login", authController.Login)

	api := r.Group("/api", limiters["general"].Limit(), middleware.ValidateJSON(), middleware.RequireAuth(jwtService))
	api.POST("/queue/jobs", queueController.EnqueueJob)
	api.GET("/queue/jobs", queueController.ListJobs)
	api.GET("/queue/jobs/next", queueController.NextJob)
	api.GET("/queue/stats", statsCache.Cache(), queueController.GetStats)
	api.POST("/queue/jobs/:id/decline", queueController.DeclineJob)
	api.POST("/queue/jobs/:id/retry", queueController.RetryJob)
	api.GET("/attempts", queueController.ListAttempts)

	logger.Info("applypilot listening", map[string]interface{}{"port": cfg.Port, "environment": cfg.Environment})
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
