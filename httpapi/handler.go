package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carebridge/resetd"
)

// ResetHandler exposes the password reset workflow over HTTP.
type ResetHandler struct {
	logger *zap.Logger
	engine *resetd.Engine
}

func NewResetHandler(logger *zap.Logger, engine *resetd.Engine) *ResetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResetHandler{
		logger: logger.Named("reset_handler"),
		engine: engine,
	}
}

// RegisterRoutes mounts the reset surface under /auth/reset-password.
func (h *ResetHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/auth/reset-password", h.Request)
	r.PUT("/auth/reset-password", h.Verify)
	r.PATCH("/auth/reset-password", h.Confirm)
	r.GET("/auth/reset-password", h.Status)
	r.DELETE("/auth/reset-password", h.Cancel)
}

type requestBody struct {
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Method string `json:"method"`
}

// Request starts a reset. The response is identical for known and unknown
// identifiers.
func (h *ResetHandler) Request(c *gin.Context) {
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	result, err := h.engine.RequestReset(requestContext(c), resetd.ResetRequest{
		Phone:  body.Phone,
		Email:  body.Email,
		Method: resetd.ResetMethod(body.Method),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Password reset OTP/token sent successfully",
		"method":         result.Method,
		"identifier":     result.Identifier,
		"expiresIn":      result.ExpiresIn,
		"canResendAfter": result.CanResendAfter,
	})
}

type verifyBody struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

// Verify checks the OTP for a phone reset and issues the confirm token.
func (h *ResetHandler) Verify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	result, err := h.engine.VerifyResetOTP(requestContext(c), body.Phone, body.OTP)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "OTP verified successfully",
		"confirmToken": result.ConfirmToken,
		"expiresIn":    result.ExpiresIn,
		"nextStep":     "Use this token to reset your password",
	})
}

type confirmBody struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Confirm commits the new password.
func (h *ResetHandler) Confirm(c *gin.Context) {
	var body confirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	result, err := h.engine.ConfirmReset(requestContext(c), body.Token, body.NewPassword, body.ConfirmPassword)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Password reset successfully",
		"resetAt": result.ResetAt.UTC().Format(time.RFC3339),
		"securityInfo": gin.H{
			"allSessionsTerminated": result.AllSessionsTerminated,
			"requiresReLogin":       true,
		},
	})
}

// Status reports an active reset without exposing its secrets. With no
// query parameters it returns the workflow requirements instead.
func (h *ResetHandler) Status(c *gin.Context) {
	token := c.Query("token")
	phone := c.Query("phone")
	email := c.Query("email")

	if token == "" && phone == "" && email == "" {
		h.writeRequirements(c)
		return
	}

	result, err := h.engine.ResetStatus(requestContext(c), resetd.StatusQuery{
		Token: token,
		Phone: phone,
		Email: email,
	})
	if err != nil {
		if errors.Is(err, resetd.ErrSessionNotFound) ||
			errors.Is(err, resetd.ErrSessionExpired) ||
			errors.Is(err, resetd.ErrInvalidToken) ||
			errors.Is(err, resetd.ErrUserNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"message":      "No active password reset found",
				"canRequest":   true,
				"requestAfter": 0,
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Password reset status",
		"method":      result.Method,
		"requestedAt": result.CreatedAt.UTC().Format(time.RFC3339),
		"expiresIn":   result.ExpiresIn,
		"otpVerified": result.OTPVerified,
		"attempts":    result.AttemptsUsed,
		"maxAttempts": 3,
		"canRequest":  result.ExpiresIn == 0,
	})
}

// Cancel aborts an active reset by token.
func (h *ResetHandler) Cancel(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reset token is required"})
		return
	}

	result, err := h.engine.CancelReset(requestContext(c), token)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Password reset cancelled successfully",
		"cancelledAt": result.CancelledAt.UTC().Format(time.RFC3339),
	})
}

func (h *ResetHandler) writeRequirements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Password reset requirements",
		"requirements": gin.H{
			"phoneFormat": "Bangladeshi: +8801XXXXXXXXX",
			"emailFormat": "Valid email address",
			"maxAttempts": 3,
			"tokenExpiry": 600,
			"rateLimit": gin.H{
				"maxRequests": 3,
				"timeWindow":  "1 hour",
			},
		},
	})
}

func (h *ResetHandler) writeError(c *gin.Context, err error) {
	var rateLimited *resetd.RateLimitedError
	if errors.As(err, &rateLimited) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "Too many reset requests. Please try again later.",
			"retryAfter": int(rateLimited.RetryAfter.Seconds()),
		})
		return
	}

	var invalidOTP *resetd.InvalidOTPError
	if errors.As(err, &invalidOTP) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "Invalid OTP",
			"attemptsRemaining": invalidOTP.AttemptsRemaining,
		})
		return
	}

	var validation *resetd.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Validation failed",
			"field": validation.Field,
		})
		return
	}

	switch {
	case errors.Is(err, resetd.ErrValidation),
		errors.Is(err, resetd.ErrPasswordPolicy),
		errors.Is(err, resetd.ErrPasswordMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, resetd.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Too many failed attempts. Please request a new password reset.",
		})

	case errors.Is(err, resetd.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Too many reset requests. Please try again later.",
		})

	case errors.Is(err, resetd.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Reset request expired"})

	case errors.Is(err, resetd.ErrSessionNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Reset request not found or expired"})

	case errors.Is(err, resetd.ErrOTPRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "OTP verification required"})

	case errors.Is(err, resetd.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired reset token"})

	case errors.Is(err, resetd.ErrAccountInactive):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account is deactivated"})

	case errors.Is(err, resetd.ErrInvalidOTP),
		errors.Is(err, resetd.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid phone number or OTP"})

	default:
		h.logger.Error("reset handler failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
