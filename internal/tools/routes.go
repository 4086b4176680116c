package tools

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

// Descriptor names a tool and its arguments
type Descriptor struct {
	Name        string   `json:"name"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Arguments   []string `json:"arguments,omitempty"`
}

// Descriptors lists the tools in registration order
var Descriptors = []Descriptor{
	{"parseUserQuery", "POST", "/tools/parseUserQuery", "Parse a natural-language question into query components", []string{"user_question"}},
	{"executeSQLQuery", "POST", "/tools/executeSQLQuery", "Assemble a SELECT from components and execute it", []string{"table_name", "columns", "where_clause", "order_clause", "limit_clause"}},
	{"getAvailableTablesAndColumns", "GET", "/tools/getAvailableTablesAndColumns", "Describe enabled tables with alias hints", nil},
	{"executeSqlQueryDirect", "POST", "/tools/executeSqlQueryDirect", "Execute a caller-written SELECT statement", []string{"sql_query"}},
	{"getSampleData", "POST", "/tools/getSampleData", "Return the first rows of a table", []string{"table_name", "limit"}},
	{"suggestQueryStructure", "POST", "/tools/suggestQueryStructure", "Suggest and explain a SELECT without running it", []string{"user_intent"}},
	{"getEnumValues", "POST", "/tools/getEnumValues", "List the permitted values of a field", []string{"field_name"}},
}

type parseRequest struct {
	UserQuestion string `json:"user_question" binding:"required"`
}

type directRequest struct {
	SQLQuery string `json:"sql_query" binding:"required"`
}

type sampleRequest struct {
	TableName string `json:"table_name" binding:"required"`
	Limit     int    `json:"limit"`
}

type suggestRequest struct {
	UserIntent string `json:"user_intent" binding:"required"`
}

type enumRequest struct {
	FieldName string `json:"field_name" binding:"required"`
}

type addAliasRequest struct {
	Alias   string   `json:"alias" binding:"required"`
	Targets []string `json:"targets" binding:"required"`
	Persist bool     `json:"persist"`
}

// RegisterRoutes mounts the tool endpoints under api and the alias
// administration endpoints under api/aliases, guarded by admin.
func (t *Toolset) RegisterRoutes(api *gin.RouterGroup, admin ...gin.HandlerFunc) {
	tools := api.Group("/tools")
	{
		tools.GET("", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"tools": Descriptors})
		})

		tools.POST("/parseUserQuery", func(c *gin.Context) {
			var req parseRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.ParseUserQuery(c.Request.Context(), req.UserQuestion))
		})

		tools.POST("/executeSQLQuery", func(c *gin.Context) {
			var req ExecuteRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.ExecuteSQLQuery(c.Request.Context(), req))
		})

		tools.GET("/getAvailableTablesAndColumns", func(c *gin.Context) {
			respond(c, t.GetAvailableTablesAndColumns(c.Request.Context()))
		})

		tools.POST("/executeSqlQueryDirect", func(c *gin.Context) {
			var req directRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.ExecuteSQLQueryDirect(c.Request.Context(), req.SQLQuery))
		})

		tools.POST("/getSampleData", func(c *gin.Context) {
			var req sampleRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.GetSampleData(c.Request.Context(), req.TableName, req.Limit))
		})

		tools.POST("/suggestQueryStructure", func(c *gin.Context) {
			var req suggestRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.SuggestQueryStructure(c.Request.Context(), req.UserIntent))
		})

		tools.POST("/getEnumValues", func(c *gin.Context) {
			var req enumRequest
			if !bindJSON(c, &req) {
				return
			}
			respond(c, t.GetEnumValues(c.Request.Context(), req.FieldName))
		})
	}

	if t.store == nil {
		return
	}

	aliases := api.Group("/aliases", admin...)
	{
		aliases.GET("", t.handleAliasStats)
		aliases.GET("/categories/:category", t.handleGetCategory)
		aliases.POST("/categories/:category", t.handleAddAlias)
		aliases.GET("/match", t.handleMatch)
		aliases.GET("/validate", t.handleValidate)
		aliases.POST("/save", t.handleSave)
		aliases.POST("/reload", t.handleReload)
		aliases.GET("/history", t.handleHistory)
	}
}

func (t *Toolset) handleAliasStats(c *gin.Context) {
	snapshot := t.store.Snapshot()
	counts := make(map[string]int, len(snapshot.Categories))
	for name, entries := range snapshot.Categories {
		counts[name] = len(entries)
	}

	response := gin.H{
		"source":      t.store.SourceName(),
		"alias_count": snapshot.AliasCount(),
		"categories":  counts,
		"metadata":    snapshot.Metadata,
	}
	if err := t.store.LoadError(); err != nil {
		response["load_error"] = apperrors.AsEnhanced(err)
	}
	c.JSON(http.StatusOK, response)
}

func (t *Toolset) handleGetCategory(c *gin.Context) {
	category := c.Param("category")
	if !alias.IsKnownCategory(category) {
		err := apperrors.NewUnknownCategoryError(category, alias.KnownCategories)
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"aliases":  t.store.Category(category),
	})
}

func (t *Toolset) handleAddAlias(c *gin.Context) {
	var req addAliasRequest
	if !bindJSON(c, &req) {
		return
	}

	category := c.Param("category")
	if err := t.store.AddAlias(c.Request.Context(), category, req.Alias, req.Targets, req.Persist); err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"category":  category,
		"alias":     req.Alias,
		"targets":   req.Targets,
		"persisted": req.Persist,
	})
}

func (t *Toolset) handleMatch(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		err := apperrors.NewMissingRequiredError("text")
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	if category := c.Query("category"); category != "" {
		if !alias.IsKnownCategory(category) {
			err := apperrors.NewUnknownCategoryError(category, alias.KnownCategories)
			c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text, "matches": gin.H{category: t.matcher.FindMatches(text, category, nil)}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": text, "matches": t.matcher.FindAll(text)})
}

func (t *Toolset) handleValidate(c *gin.Context) {
	issues := t.store.Validate()
	c.JSON(http.StatusOK, gin.H{
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

func (t *Toolset) handleSave(c *gin.Context) {
	if err := t.store.Save(c.Request.Context()); err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "source": t.store.SourceName()})
}

func (t *Toolset) handleReload(c *gin.Context) {
	changed, err := t.store.Reload(c.Request.Context())
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "alias_count": t.store.AliasCount()})
}

func (t *Toolset) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			err := apperrors.NewInvalidInputError("limit", "must be an integer between 1 and 100")
			c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
			return
		}
		limit = n
	}

	revisions, err := t.store.History(c.Request.Context(), limit)
	if errors.Is(err, alias.ErrHistoryUnsupported) {
		enhancedErr := apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Alias source keeps no history").
			WithDetails("Document history is only kept by the postgres alias source").
			WithMetadata("source", t.store.SourceName())
		c.JSON(http.StatusNotImplemented, formatErrorResponse(enhancedErr))
		return
	}
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	if revisions == nil {
		revisions = []alias.Revision{}
	}
	c.JSON(http.StatusOK, gin.H{
		"source":    t.store.SourceName(),
		"revisions": revisions,
		"count":     len(revisions),
	})
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		enhancedErr := apperrors.NewInvalidInputError("request body", err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
		return false
	}
	return true
}

func respond(c *gin.Context, result *Result) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(getErrorStatusCode(result.Error), result)
}

// formatErrorResponse formats an error into a user-friendly response
func formatErrorResponse(err error) gin.H {
	enhancedErr := apperrors.AsEnhanced(err)

	body := gin.H{
		"code":    enhancedErr.Code,
		"message": enhancedErr.Message,
	}
	if enhancedErr.Details != "" {
		body["details"] = enhancedErr.Details
	}
	if enhancedErr.Suggestion != "" {
		body["suggestion"] = enhancedErr.Suggestion
	}
	if len(enhancedErr.Metadata) > 0 {
		body["metadata"] = enhancedErr.Metadata
	}

	return gin.H{"success": false, "error": body}
}

// getErrorStatusCode returns the appropriate HTTP status code for an error
func getErrorStatusCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeMissingRequired, apperrors.ErrCodeUnknownCategory:
		return http.StatusBadRequest
	case apperrors.ErrCodeDisallowedQuery:
		return http.StatusForbidden
	case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case apperrors.ErrCodeInsufficientPerms:
		return http.StatusForbidden
	case apperrors.ErrCodeTableNotFound, apperrors.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeNoTablesAvailable, apperrors.ErrCodeAIUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeQueryExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
