package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"sphere-health-server/internal/auth"
	"sphere-health-server/internal/handlers"
	"sphere-health-server/internal/middleware"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/records"
	"sphere-health-server/internal/users"
	"sphere-health-server/internal/utils"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	DB      *gorm.DB
	Auth    *auth.Service
	Users   *users.Directory
	Records *records.Service
}

// SetupRoutes configures the application routes under /api.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.Auth, deps.Users)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Auth)
	appointmentHandler := handlers.NewAppointmentHandler(deps.Records)
	diagnosisHandler := handlers.NewDiagnosisHandler(deps.Records)
	messageHandler := handlers.NewMessageHandler(deps.Records)

	api := router.Group("/api")

	// Public routes
	{
		api.POST("/register/doctor", authHandler.RegisterDoctor)
		api.POST("/register/patient", authHandler.RegisterPatient)
		api.POST("/login", authHandler.Login)
		api.POST("/2fa/verify", authHandler.VerifyTwoFactor)
		api.POST("/2fa/resend", authHandler.ResendCode)
		api.POST("/forgot-password/request", authHandler.RequestPasswordReset)
		api.POST("/forgot-password/verify", authHandler.ResetPassword)
		api.GET("/health", health(deps.DB))
	}

	private := api.Group("")
	private.Use(middleware.AuthMiddleware(deps.Auth))
	{
		userRoutes := private.Group("/users")
		{
			userRoutes.GET("/me", userHandler.GetProfile)
			userRoutes.PUT("/me", userHandler.UpdateProfile)
			userRoutes.PUT("/me/2fa", userHandler.SetTwoFactor)
			userRoutes.PUT("/me/password", userHandler.ChangePassword)
			userRoutes.GET("/doctors", userHandler.GetDoctors)
		}

		adminRoutes := private.Group("/admin")
		adminRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.GET("/users", userHandler.GetUsers)
			adminRoutes.PUT("/users/:id/activate", userHandler.ToggleUserActive)
			adminRoutes.DELETE("/users/:id", userHandler.DeleteUser)
		}

		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient), appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			// party checks happen in the records service
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PUT("/:id", appointmentHandler.UpdateAppointment)
			appointmentRoutes.DELETE("/:id", appointmentHandler.DeleteAppointment)
		}

		diagnosisRoutes := private.Group("/diagnoses")
		{
			diagnosisRoutes.GET("/patients", middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin), diagnosisHandler.GetPatients)
			diagnosisRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleDoctor), diagnosisHandler.CreateDiagnosis)
			diagnosisRoutes.GET("", diagnosisHandler.GetDiagnoses)
			diagnosisRoutes.GET("/patient/:patientId", diagnosisHandler.GetDiagnosesForPatient)
			diagnosisRoutes.GET("/:id", diagnosisHandler.GetDiagnosisByID)
			diagnosisRoutes.PUT("/:id", middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin), diagnosisHandler.UpdateDiagnosis)
			diagnosisRoutes.DELETE("/:id", middleware.RoleAuthMiddleware(models.RoleAdmin), diagnosisHandler.DeleteDiagnosis)
		}

		messageRoutes := private.Group("/messages")
		{
			messageRoutes.POST("", messageHandler.SendMessage)
			messageRoutes.GET("", messageHandler.GetMessagesForUser)
			messageRoutes.GET("/new", messageHandler.GetNewMessages)
			messageRoutes.GET("/conversations", messageHandler.GetConversations)
			messageRoutes.PATCH("/:id/read", messageHandler.MarkMessageAsRead)
		}
	}
}

func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			utils.Error(c, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	}
}
