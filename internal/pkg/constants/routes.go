package constants

// Static route constants
const (
	PublicRoute = "/"
	APIRoute    = "/api"
	APIV1Route  = "/v1"
)
