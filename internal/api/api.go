// Package api is the thin REST surface wiring HTTP requests to the
// Schema Lifecycle Engine and the SerDes Binding Manager. Transport
// concerns (routing, content negotiation, error-code mapping) follow
// the teacher's gin setup; domain logic lives entirely in
// internal/lifecycle and internal/serdes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/lifecycle"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
	"github.com/nimbusdata/schema-registry/internal/serdes"
)

// API wires an Engine and a serdes Manager to a gin.Engine.
type API struct {
	engine *lifecycle.Engine
	serdes *serdes.Manager
}

func New(engine *lifecycle.Engine, serdesMgr *serdes.Manager) *API {
	return &API{engine: engine, serdes: serdesMgr}
}

// ErrorResponse mirrors the teacher's Confluent-style numeric error code.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// SchemaRequest is the payload for registering or checking a schema version.
type SchemaRequest struct {
	Schema      string `json:"schema"`
	SchemaType  string `json:"schemaType"`
	Policy      string `json:"compatibilityPolicy,omitempty"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
}

type VersionResponse struct {
	Version int `json:"version"`
}

type SchemaVersionResponse struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Schema      string `json:"schema"`
	Fingerprint string `json:"fingerprint"`
	Description string `json:"description,omitempty"`
}

type CompatibilityResponse struct {
	IsCompatible bool `json:"is_compatible"`
}

type SerDesRequest struct {
	Name         string `json:"name"`
	ClassName    string `json:"className"`
	FileID       string `json:"fileId"`
	IsSerializer bool   `json:"isSerializer"`
}

// SetupRouter builds the gin.Engine, mirroring the teacher's setup:
// release mode, recovery middleware, a fixed Confluent-style content
// type on every response.
func (a *API) SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		c.Next()
	})

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", a.listVersions)
		subjectGroup.POST("/versions", a.registerVersion)
		subjectGroup.GET("/versions/:version", a.getVersion)
		subjectGroup.POST("", a.lookupVersion)
		subjectGroup.GET("/serializers", a.getSerializers)
		subjectGroup.GET("/deserializers", a.getDeserializers)
		subjectGroup.POST("/serdes/:serdesId", a.mapSerDes)
	}
	r.GET("/subjects", a.listSubjects)

	r.POST("/compatibility/subjects/:subject/versions/:version", a.checkCompatibilityVersion)
	r.POST("/compatibility/subjects/:subject/versions", a.checkCompatibilityAllVersions)

	r.POST("/serdes/files", a.uploadFile)
	r.GET("/serdes/files/:fileId", a.downloadFile)
	r.POST("/serdes", a.addSerDesInfo)
	r.GET("/serdes/:serdesId", a.getSerDesInfo)
	r.GET("/serdes/:serdesId/jar", a.downloadJar)

	return r
}

func (a *API) listSubjects(c *gin.Context) {
	metas, err := a.engine.FindSchemaMetadata(c.Request.Context(), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	c.JSON(http.StatusOK, names)
}

func (a *API) listVersions(c *gin.Context) {
	subject := c.Param("subject")
	versions, err := a.engine.FindAllVersions(c.Request.Context(), subject)
	if err != nil {
		writeError(c, err)
		return
	}
	nums := make([]int, 0, len(versions))
	for _, v := range versions {
		nums = append(nums, v.Version)
	}
	c.JSON(http.StatusOK, nums)
}

func (a *API) registerVersion(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	meta := domain.SchemaMetadata{
		Name:        subject,
		Type:        defaultDialect(req.SchemaType),
		Group:       req.Group,
		Policy:      defaultPolicy(req.Policy),
		Description: req.Description,
	}

	version, err := a.engine.AddSchemaVersion(c.Request.Context(), meta, req.Schema, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, VersionResponse{Version: version})
}

func (a *API) getVersion(c *gin.Context) {
	subject := c.Param("subject")
	version, err := parseVersionParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version"})
		return
	}

	info, err := a.engine.GetSchemaVersionInfo(c.Request.Context(), subject, version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(subject, info))
}

func (a *API) lookupVersion(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	version, err := a.engine.GetSchemaVersion(c.Request.Context(), subject, req.Schema)
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := a.engine.GetSchemaVersionInfo(c.Request.Context(), subject, version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(subject, info))
}

func (a *API) checkCompatibilityVersion(c *gin.Context) {
	subject := c.Param("subject")
	version, err := parseVersionParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version"})
		return
	}

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	compatible, err := a.engine.IsCompatibleWithVersion(c.Request.Context(), subject, version, req.Schema)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

func (a *API) checkCompatibilityAllVersions(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	compatible, err := a.engine.IsCompatible(c.Request.Context(), subject, req.Schema)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

func (a *API) uploadFile(c *gin.Context) {
	fileID, err := a.serdes.UploadFile(c.Request.Context(), c.Request.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fileId": fileID})
}

func (a *API) downloadFile(c *gin.Context) {
	rc, err := a.serdes.DownloadFile(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}

func (a *API) downloadJar(c *gin.Context) {
	id, err := parseID(c.Param("serdesId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42203, Message: "invalid serdes id"})
		return
	}
	rc, err := a.serdes.DownloadJar(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, "application/java-archive", rc, nil)
}

func (a *API) addSerDesInfo(c *gin.Context) {
	var req SerDesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}
	id, err := a.serdes.AddSerDesInfo(c.Request.Context(), domain.SerDesInfo{
		Name: req.Name, ClassName: req.ClassName, FileID: req.FileID, IsSerializer: req.IsSerializer,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (a *API) getSerDesInfo(c *gin.Context) {
	id, err := parseID(c.Param("serdesId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42203, Message: "invalid serdes id"})
		return
	}
	info, err := a.serdes.GetSerDesInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *API) mapSerDes(c *gin.Context) {
	subject := c.Param("subject")
	serdesID, err := parseID(c.Param("serdesId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42203, Message: "invalid serdes id"})
		return
	}
	meta, err := a.engine.GetSchemaMetadata(c.Request.Context(), subject)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := a.serdes.MapSerDesWithSchema(c.Request.Context(), meta.ID, serdesID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) getSerializers(c *gin.Context) {
	a.listSerDes(c, true)
}

func (a *API) getDeserializers(c *gin.Context) {
	a.listSerDes(c, false)
}

func (a *API) listSerDes(c *gin.Context, serializer bool) {
	subject := c.Param("subject")
	meta, err := a.engine.GetSchemaMetadata(c.Request.Context(), subject)
	if err != nil {
		writeError(c, err)
		return
	}
	var infos []domain.SerDesInfo
	if serializer {
		infos, err = a.serdes.GetSchemaSerializers(c.Request.Context(), meta.ID)
	} else {
		infos, err = a.serdes.GetSchemaDeserializers(c.Request.Context(), meta.ID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, regerrors.ErrSchemaNotFound), errors.Is(err, regerrors.ErrSerDesNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40401, Message: err.Error()})
	case errors.Is(err, regerrors.ErrInvalidSchema):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: 42201, Message: err.Error()})
	case errors.Is(err, regerrors.ErrIncompatibleSchema):
		c.JSON(http.StatusConflict, ErrorResponse{ErrorCode: 40901, Message: err.Error()})
	case errors.Is(err, regerrors.ErrConfigurationError):
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 40001, Message: err.Error()})
	case errors.Is(err, regerrors.ErrIOFailure):
		slog.Error("storage or file-store failure", "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{ErrorCode: 50300, Message: err.Error()})
	default:
		slog.Error("unclassified error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50000, Message: err.Error()})
	}
}

func toVersionResponse(subject string, info *domain.SchemaVersionInfo) SchemaVersionResponse {
	return SchemaVersionResponse{
		Name:        subject,
		Version:     info.Version,
		Schema:      info.Text,
		Fingerprint: info.Fingerprint,
		Description: info.Description,
	}
}

func defaultDialect(t string) string {
	if t == "" {
		return "avro"
	}
	return t
}

func defaultPolicy(p string) domain.CompatibilityPolicy {
	if p == "" {
		return domain.CompatibilityBackward
	}
	return domain.CompatibilityPolicy(p)
}
