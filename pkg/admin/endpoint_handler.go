package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/pzhenzhou/rediscodec/pkg/common"
)

const (
	EndpointsPath    = "/endpoints"
	PoolStatusPath   = "/pool_status"
	maskedCredential = "******"
)

// maskEndpoint hides the password; the username stays visible.
func maskEndpoint(ep common.EndpointConfig, _ int) common.EndpointConfig {
	if ep.Password != "" {
		ep.Password = maskedCredential
	}
	return ep
}

var _ WebHandler = (*ListEndpointsHandler)(nil)

type ListEndpointsHandler struct{}

func (l *ListEndpointsHandler) Path() string {
	return EndpointsPath
}

func (l *ListEndpointsHandler) Method() HttpMethod {
	return GET
}

func (l *ListEndpointsHandler) Handler(ctx *gin.Context) {
	mgr := backendManager(ctx)
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    lo.Map(mgr.Endpoints(), maskEndpoint),
	})
}

var _ WebHandler = (*AddEndpointHandler)(nil)

type AddEndpointHandler struct{}

func (a *AddEndpointHandler) Path() string {
	return EndpointsPath
}

func (a *AddEndpointHandler) Method() HttpMethod {
	return POST
}

func (a *AddEndpointHandler) Handler(ctx *gin.Context) {
	var request common.EndpointConfig
	if err := ctx.ShouldBindBodyWithJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}
	request.ApplyDefaults()
	mgr := backendManager(ctx)
	if _, err := mgr.Register(ctx.Request.Context(), request); err != nil {
		ctx.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}
	logger.Info("endpoint added", "Endpoint", request.EndpointName(), "Addr", request.Addr())
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "endpoint added",
		Data:    maskEndpoint(request, 0),
	})
}

var _ WebHandler = (*RemoveEndpointHandler)(nil)

type RemoveEndpointHandler struct{}

func (r *RemoveEndpointHandler) Path() string {
	return EndpointsPath + "/:name"
}

func (r *RemoveEndpointHandler) Method() HttpMethod {
	return DELETE
}

func (r *RemoveEndpointHandler) Handler(ctx *gin.Context) {
	name := ctx.Param("name")
	if !backendManager(ctx).Remove(name) {
		ctx.JSON(http.StatusNotFound, ApiResponse{
			Code:    http.StatusNotFound,
			Message: "no endpoint " + name,
		})
		return
	}
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "endpoint removed",
	})
}

var _ WebHandler = (*PoolStatusHandler)(nil)

type PoolStatusHandler struct{}

func (p *PoolStatusHandler) Path() string {
	return PoolStatusPath
}

func (p *PoolStatusHandler) Method() HttpMethod {
	return GET
}

func (p *PoolStatusHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    backendManager(ctx).Statuses(),
	})
}
