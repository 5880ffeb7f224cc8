package server

import (
	"net/http"

	rootapi "farmapp/api"

	"github.com/gin-gonic/gin"
)

const EndPointHelp = "/help"

var helpText = `
	farmapp API server.

	Public:
	  GET    ` + rootapi.HealthEndpoint + `
	  GET    ` + rootapi.MetricsEndpoint + `

	Bearer token required:
	  POST   ` + rootapi.SyncEndpoint + `
	  POST   ` + rootapi.SyncBatchEndpoint + `
	  GET    ` + rootapi.SyncStatusEndpoint + `?since=
	  DELETE ` + rootapi.SyncClearEndpoint + `?olderThan=7d|30d|90d
	  POST   ` + rootapi.OutbreakReportEndpoint + `
	  GET    ` + rootapi.OutbreaksEndpoint + `?sw_lat=&sw_lon=&ne_lat=&ne_lon=&status=
	  GET    ` + rootapi.OutbreaksEndpoint + `/:id
	  PUT    ` + rootapi.OutbreaksEndpoint + `/:id/status
	  POST   ` + rootapi.OutbreakMapEndpoint + `
	  GET    ` + rootapi.WeatherEndpoint + `?lat=&lon=
	  POST   ` + rootapi.IrrigationEndpoint + `
	  GET    ` + rootapi.MarketPricesEndpoint + `?crop=&region=
	  POST   ` + rootapi.DiagnosisEndpoint + `
	`

func Help(c *gin.Context) {
	c.String(http.StatusOK, helpText)
}
