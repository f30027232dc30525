package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-spot-counter/internal/config"
	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/logger"
	"go-spot-counter/internal/observer"
	"go-spot-counter/internal/service"
	"go-spot-counter/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health check
const Version = "1.0.0"

// imageField is the multipart field carrying the upload
const imageField = "image"

func NewHandler(svc service.SpotCountingService, metrics *observer.MetricsObserver, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)

	v1 := r.Group("/v1")
	v1.GET("/defaults", getDefaults(svc))
	v1.POST("/count", countSpots(svc, cfg))
	v1.GET("/runs", listRuns(svc))
	v1.GET("/runs/:id", getRun(svc))
	v1.GET("/metrics", getMetrics(svc, metrics))

	return r
}

func countSpots(svc service.SpotCountingService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"user_agent": c.Request.UserAgent(),
			"ip":         c.ClientIP(),
		}).Info("Processing spot count request")

		var req models.CountRequest
		if err := c.ShouldBind(&req); err != nil {
			if isBodyTooLarge(err) {
				respondError(c, http.StatusRequestEntityTooLarge, "upload too large",
					apperrors.NewPayloadTooLargeError("upload too large", err))
				return
			}
			respondError(c, http.StatusBadRequest, "invalid request parameters", err)
			return
		}

		data, filename, err := readUpload(c)
		if err != nil {
			respondError(c, determineStatusCode(err), "invalid upload", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"filename":   filename,
			"size_bytes": len(data),
			"binarizer":  req.Binarizer,
			"extractor":  req.Extractor,
		}).Debug("Counting spots")

		result, err := svc.Count(ctx, data, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
				err = apperrors.NewTimeoutError("request timed out", err)
			}
			respondError(c, determineStatusCode(err), "spot counting failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"run_id":             result.RunID,
			"filename":           filename,
			"spot_count":         result.SpotCount,
			"warnings":           len(result.Warnings),
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Spot count completed successfully")

		c.JSON(http.StatusOK, result)
	}
}

// readUpload returns the bytes of the multipart image field
func readUpload(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile(imageField)
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, "", apperrors.NewPayloadTooLargeError("upload too large", err)
		}
		return nil, "", apperrors.NewValidationError(
			fmt.Sprintf("multipart field %q is required", imageField), err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to read upload", err)
	}
	return data, header.Filename, nil
}

func getDefaults(svc service.SpotCountingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Defaults())
	}
}

func listRuns(svc service.SpotCountingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				respondError(c, http.StatusBadRequest, "invalid limit",
					apperrors.NewValidationError(fmt.Sprintf("limit must be a non-negative integer, got %q", v), err))
				return
			}
			limit = n
		}
		runs, err := svc.ListRuns(c.Request.Context(), limit)
		if err != nil {
			respondError(c, determineStatusCode(err), "failed to list runs", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
	}
}

func getRun(svc service.SpotCountingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := svc.GetRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, determineStatusCode(err), "failed to get run", err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func getMetrics(svc service.SpotCountingService, metrics *observer.MetricsObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"runs": metrics.GetMetrics(),
			"pool": svc.PoolStats(),
		})
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "available",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

// isBodyTooLarge also matches the message because multipart parsing does not
// always wrap the reader error
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	case isBodyTooLarge(err):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	resp := models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Details = appErr.Details
	}
	c.AbortWithStatusJSON(code, resp)
}
